package canteen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/canteen-station/internal/apperr"
	"github.com/mmeshcher/canteen-station/internal/model"
	"github.com/mmeshcher/canteen-station/internal/validation"
)

// MenuItem описывает позицию меню в ответе сервиса.
type MenuItem struct {
	ID       string          `json:"_id" validate:"required"`
	Name     string          `json:"name" validate:"required"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity" validate:"gte=0"`
	Category string          `json:"category"`
	ImageURL string          `json:"imageUrl,omitempty"`
}

type checkoutItem struct {
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
}

type checkoutRequest struct {
	Items       []checkoutItem `json:"items"`
	TotalAmount json.Number    `json:"totalAmount"`
}

type checkoutResponse struct {
	OrderID string `json:"orderId" validate:"required"`
}

type verifyRequest struct {
	OrderID string `json:"orderId"`
}

type pickupItem struct {
	Name     string `json:"name" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

// PickupOrder описывает заказ в ответе сервиса проверки выдачи.
type PickupOrder struct {
	ID          string          `json:"_id" validate:"required"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Items       []pickupItem    `json:"items" validate:"dive"`
	Status      string          `json:"status,omitempty"`
}

type verifyResponse struct {
	Order *PickupOrder `json:"order"`
	PickupOrder
}

// FetchMenu запрашивает текущий список позиций меню.
func (c *Client) FetchMenu(ctx context.Context) ([]model.CatalogEntry, error) {
	res, err := c.do(ctx, opMenu, http.MethodGet, menuPath, "", nil)
	if err != nil {
		return nil, err
	}

	var items []MenuItem
	if err := decode(res, &items); err != nil {
		return nil, err
	}

	entries := make([]model.CatalogEntry, 0, len(items))
	for i, it := range items {
		if err := validation.Struct(it); err != nil {
			return nil, fmt.Errorf("%w: menu item %d: %w", apperr.ErrTransportFailure, i, err)
		}
		if it.Price.IsNegative() {
			return nil, fmt.Errorf("%w: menu item %q has negative price", apperr.ErrTransportFailure, it.ID)
		}
		entries = append(entries, model.CatalogEntry{
			ID:                it.ID,
			Name:              it.Name,
			UnitPrice:         it.Price,
			AvailableQuantity: it.Quantity,
			Category:          it.Category,
			ImageURL:          it.ImageURL,
		})
	}

	return entries, nil
}

// SubmitOrder отправляет снимок корзины и возвращает присвоенный сервисом номер заказа.
func (c *Client) SubmitOrder(ctx context.Context, token string, order model.OrderRequest) (string, error) {
	body := checkoutRequest{
		Items:       make([]checkoutItem, 0, len(order.Lines)),
		TotalAmount: json.Number(order.TotalAmount.String()),
	}
	for _, l := range order.Lines {
		body.Items = append(body.Items, checkoutItem{
			Name:     l.Name,
			Price:    json.Number(l.UnitPrice.String()),
			Quantity: l.Quantity,
		})
	}

	res, err := c.do(ctx, opCheckout, http.MethodPost, checkoutPath, token, body)
	if err != nil {
		return "", err
	}

	var out checkoutResponse
	if err := decode(res, &out); err != nil {
		return "", err
	}
	if err := validation.Struct(out); err != nil {
		return "", fmt.Errorf("%w: checkout response: %w", apperr.ErrTransportFailure, err)
	}

	return out.OrderID, nil
}

// VerifyPickup передаёт считанный код на проверку и возвращает заказ для выдачи.
func (c *Client) VerifyPickup(ctx context.Context, token, payload string) (*model.Order, error) {
	res, err := c.do(ctx, opVerify, http.MethodPost, verifyPath, token, verifyRequest{OrderID: payload})
	if err != nil {
		return nil, err
	}

	var out verifyResponse
	if err := decode(res, &out); err != nil {
		return nil, err
	}

	po := out.PickupOrder
	if out.Order != nil {
		po = *out.Order
	}
	if err := validation.Struct(po); err != nil {
		return nil, fmt.Errorf("%w: verify response: %w", apperr.ErrTransportFailure, err)
	}

	order := &model.Order{
		OrderID:     po.ID,
		TotalAmount: po.TotalAmount,
		Status:      model.OrderStatusFulfilled,
		Lines:       make([]model.PickupLine, 0, len(po.Items)),
	}
	if po.Status != "" {
		order.Status = model.OrderStatus(po.Status)
	}
	for _, it := range po.Items {
		order.Lines = append(order.Lines, model.PickupLine{Name: it.Name, Quantity: it.Quantity})
	}

	return order, nil
}
