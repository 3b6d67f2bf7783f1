// Package handler содержит HTTP-обработчики API станции.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/mmeshcher/canteen-station/internal/apperr"
	"github.com/mmeshcher/canteen-station/internal/middleware"
	"github.com/mmeshcher/canteen-station/internal/model"
	"github.com/mmeshcher/canteen-station/internal/notify"
	"github.com/mmeshcher/canteen-station/internal/service"
	"github.com/mmeshcher/canteen-station/internal/validation"
)

const qrSize = 256

// Service определяет контракт логики станции, используемой HTTP-обработчиками.
type Service interface {
	NewKiosk() string
	Menu(ctx context.Context, category, query string, refresh bool) (*service.MenuView, error)
	AddToCart(ctx context.Context, kioskID, entryID string) error
	DecreaseQuantity(kioskID, entryID string) error
	Cart(kioskID string) *service.CartView
	Checkout(ctx context.Context, kioskID, token string) (*model.Confirmation, error)
	Confirmation(kioskID, orderID string) (*model.Confirmation, error)
	Notices(kioskID string) []notify.Notice

	ScanStatus() model.ScanStatus
	StartScan(ctx context.Context) (model.ScanStatus, error)
	NextScan(ctx context.Context) (model.ScanStatus, error)
	Decode(ctx context.Context, payload, token string) (model.ScanStatus, error)
	DecodeFailed(reason string) model.ScanStatus
	StaffNotices() []notify.Notice
	History(ctx context.Context, limit int) ([]model.VerificationRecord, error)
}

// Handler реализует HTTP-обработчики API станции.
type Handler struct {
	service  Service
	logger   *zap.Logger
	sessions *middleware.SessionMiddleware
	observer middleware.RequestObserver
	gatherer prometheus.Gatherer
}

// Option настраивает обработчик.
type Option func(*Handler)

// WithMetrics подключает учёт запросов и публикацию метрик на /metrics.
func WithMetrics(obs middleware.RequestObserver, g prometheus.Gatherer) Option {
	return func(h *Handler) {
		h.observer = obs
		h.gatherer = g
	}
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, sessions *middleware.SessionMiddleware, opts ...Option) *Handler {
	if sessions == nil {
		sessions = middleware.NewSessionMiddleware("", s.NewKiosk)
	}
	h := &Handler{
		service:  s,
		logger:   logger,
		sessions: sessions,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response error", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	msg := apperr.Reason(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err), zap.String("kind", apperr.Kind(err)))
		msg = http.StatusText(status)
	}
	h.writeJSON(w, status, messageResponse{Message: msg})
}

func kioskID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.GetKioskIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return id, ok
}

type menuItemResponse struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
	Category string      `json:"category"`
	ImageURL string      `json:"imageUrl,omitempty"`
	SoldOut  bool        `json:"soldOut"`
}

type menuResponse struct {
	Categories []string           `json:"categories"`
	Items      []menuItemResponse `json:"items"`
	FetchedAt  string             `json:"fetchedAt"`
}

func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

// GetMenu возвращает меню с фильтром по категории и строке поиска.
func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	refresh := q.Get("refresh") == "1" || q.Get("refresh") == "true"

	view, err := h.service.Menu(r.Context(), q.Get("category"), q.Get("q"), refresh)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := menuResponse{
		Categories: view.Categories,
		Items:      make([]menuItemResponse, 0, len(view.Entries)),
		FetchedAt:  view.FetchedAt.Format(time.RFC3339),
	}
	for _, e := range view.Entries {
		resp.Items = append(resp.Items, menuItemResponse{
			ID:       e.ID,
			Name:     e.Name,
			Price:    number(e.UnitPrice),
			Quantity: e.AvailableQuantity,
			Category: e.Category,
			ImageURL: e.ImageURL,
			SoldOut:  e.SoldOut(),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

type cartLineResponse struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
	Subtotal json.Number `json:"subtotal"`
}

type cartResponse struct {
	Items   []cartLineResponse `json:"items"`
	Total   json.Number        `json:"total"`
	Pending bool               `json:"pending"`
}

func toCartResponse(view *service.CartView) cartResponse {
	resp := cartResponse{
		Items:   make([]cartLineResponse, 0, len(view.Lines)),
		Total:   number(view.Total),
		Pending: view.Pending,
	}
	for _, l := range view.Lines {
		resp.Items = append(resp.Items, cartLineResponse{
			ID:       l.Entry.ID,
			Name:     l.Entry.Name,
			Price:    number(l.Entry.UnitPrice),
			Quantity: l.Quantity,
			Subtotal: number(l.Subtotal()),
		})
	}
	return resp
}

// GetCart возвращает корзину текущего киоска.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	id, ok := kioskID(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, toCartResponse(h.service.Cart(id)))
}

// AddItem добавляет позицию меню в корзину или увеличивает её количество.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := kioskID(w, r)
	if !ok {
		return
	}

	if err := h.service.AddToCart(r.Context(), id, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartResponse(h.service.Cart(id)))
}

// RemoveItem уменьшает количество позиции в корзине на единицу.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := kioskID(w, r)
	if !ok {
		return
	}

	if err := h.service.DecreaseQuantity(id, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toCartResponse(h.service.Cart(id)))
}

type orderLineResponse struct {
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

type confirmationResponse struct {
	OrderID     string              `json:"orderId"`
	Items       []orderLineResponse `json:"items"`
	TotalAmount json.Number         `json:"totalAmount"`
	PlacedAt    string              `json:"placedAt"`
	QRCodeURL   string              `json:"qrCodeUrl"`
}

// Checkout оформляет заказ по корзине текущего киоска.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := kioskID(w, r)
	if !ok {
		return
	}

	conf, err := h.service.Checkout(r.Context(), id, middleware.GetTokenFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := confirmationResponse{
		OrderID:     conf.OrderID,
		Items:       make([]orderLineResponse, 0, len(conf.Request.Lines)),
		TotalAmount: number(conf.Request.TotalAmount),
		PlacedAt:    conf.PlacedAt.Format(time.RFC3339),
		QRCodeURL:   "/api/orders/" + conf.OrderID + "/qr",
	}
	for _, l := range conf.Request.Lines {
		resp.Items = append(resp.Items, orderLineResponse{Name: l.Name, Price: number(l.UnitPrice), Quantity: l.Quantity})
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// GetOrderQR возвращает PNG с QR-кодом номера последнего заказа киоска.
func (h *Handler) GetOrderQR(w http.ResponseWriter, r *http.Request) {
	id, ok := kioskID(w, r)
	if !ok {
		return
	}

	conf, err := h.service.Confirmation(id, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	png, err := qrcode.Encode(conf.OrderID, qrcode.Medium, qrSize)
	if err != nil {
		h.logger.Error("encode qr error", zap.Error(err), zap.String("order", conf.OrderID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// PayOrder подтверждает экран оплаты. Оплата не проводится.
func (h *Handler) PayOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := kioskID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.Confirmation(id, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type noticeResponse struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	At      string `json:"at"`
}

func toNotices(notices []notify.Notice) []noticeResponse {
	resp := make([]noticeResponse, 0, len(notices))
	for _, n := range notices {
		resp = append(resp, noticeResponse{Level: string(n.Level), Message: n.Message, At: n.At.Format(time.RFC3339Nano)})
	}
	return resp
}

// GetNotices возвращает и очищает уведомления текущего киоска.
func (h *Handler) GetNotices(w http.ResponseWriter, r *http.Request) {
	id, ok := kioskID(w, r)
	if !ok {
		return
	}

	h.writeJSON(w, http.StatusOK, toNotices(h.service.Notices(id)))
}

type pickupLineResponse struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type verifiedOrderResponse struct {
	OrderID     string               `json:"orderId"`
	Items       []pickupLineResponse `json:"items"`
	TotalAmount json.Number          `json:"totalAmount"`
	Status      string               `json:"status"`
}

type scanResponse struct {
	SessionID   string                 `json:"sessionId,omitempty"`
	State       string                 `json:"state"`
	LastPayload string                 `json:"lastPayload,omitempty"`
	Order       *verifiedOrderResponse `json:"order,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

func toScanResponse(st model.ScanStatus) scanResponse {
	resp := scanResponse{
		SessionID:   st.SessionID,
		State:       string(st.State),
		LastPayload: st.LastPayload,
		Error:       st.ErrorMessage,
	}
	if o := st.VerifiedOrder; o != nil {
		vo := &verifiedOrderResponse{
			OrderID:     o.OrderID,
			Items:       make([]pickupLineResponse, 0, len(o.Lines)),
			TotalAmount: number(o.TotalAmount),
			Status:      string(o.Status),
		}
		for _, l := range o.Lines {
			vo.Items = append(vo.Items, pickupLineResponse{Name: l.Name, Quantity: l.Quantity})
		}
		resp.Order = vo
	}
	return resp
}

func (h *Handler) writeScan(w http.ResponseWriter, st model.ScanStatus, err error) {
	status := http.StatusOK
	if err != nil {
		status = apperr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("scan request failed", zap.Error(err))
		}
	}
	h.writeJSON(w, status, toScanResponse(st))
}

// GetScan возвращает состояние сеанса сканирования.
func (h *Handler) GetScan(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toScanResponse(h.service.ScanStatus()))
}

// StartScan включает сканирование.
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.StartScan(r.Context())
	h.writeScan(w, st, err)
}

// NextScan сбрасывает результат и включает сканирование следующего кода.
func (h *Handler) NextScan(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.NextScan(r.Context())
	h.writeScan(w, st, err)
}

type decodeRequest struct {
	Payload string `json:"payload"`
	Error   string `json:"error"`
}

// Decode принимает результат распознавания от драйвера сканера: считанный код или ошибку.
func (h *Handler) Decode(w http.ResponseWriter, r *http.Request) {
	var req decodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid request body"})
		return
	}

	if req.Error != "" || !validation.IsPayload(req.Payload) {
		reason := req.Error
		if reason == "" {
			reason = "empty payload"
		}
		st := h.service.DecodeFailed(reason)
		h.writeJSON(w, http.StatusAccepted, toScanResponse(st))
		return
	}

	st, err := h.service.Decode(r.Context(), strings.TrimSpace(req.Payload), middleware.GetTokenFromContext(r.Context()))
	h.writeScan(w, st, err)
}

// GetStaffNotices возвращает и очищает уведомления экрана персонала.
func (h *Handler) GetStaffNotices(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, toNotices(h.service.StaffNotices()))
}

type verificationResponse struct {
	SessionID  string `json:"sessionId"`
	Payload    string `json:"payload"`
	Outcome    string `json:"outcome"`
	OrderID    string `json:"orderId,omitempty"`
	Message    string `json:"message,omitempty"`
	VerifiedAt string `json:"verifiedAt"`
}

// GetHistory возвращает последние проверки выдачи из журнала станции.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeJSON(w, http.StatusBadRequest, messageResponse{Message: "invalid limit"})
			return
		}
		limit = n
	}

	records, err := h.service.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("get history error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(records) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]verificationResponse, 0, len(records))
	for _, v := range records {
		resp = append(resp, verificationResponse{
			SessionID:  v.SessionID,
			Payload:    v.Payload,
			Outcome:    v.Outcome,
			OrderID:    v.OrderID,
			Message:    v.Message,
			VerifiedAt: v.VerifiedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}
