// Package checkout превращает корзину в заказ, зарегистрированный сервисом столовой.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/canteen-station/internal/apperr"
	"github.com/mmeshcher/canteen-station/internal/canteen"
	"github.com/mmeshcher/canteen-station/internal/cart"
	"github.com/mmeshcher/canteen-station/internal/model"
	"github.com/mmeshcher/canteen-station/internal/notify"
)

const transportMessage = "Could not reach the canteen service, please try again."

// Submitter отправляет заказ во внешний сервис.
type Submitter interface {
	SubmitOrder(ctx context.Context, token string, order model.OrderRequest) (string, error)
}

// Recorder сохраняет оформленные заказы в журнал станции.
type Recorder interface {
	RecordPlaced(ctx context.Context, c model.Confirmation) error
}

// Observer получает итог каждой попытки оформления.
type Observer interface {
	ObserveCheckout(outcome string)
}

// Transaction выполняет оформление заказа для одной корзины.
type Transaction struct {
	submitter Submitter
	notifier  notify.Notifier
	logger    *zap.Logger
	recorder  Recorder
	observer  Observer
	now       func() time.Time

	pending atomic.Bool
}

// Option настраивает транзакцию.
type Option func(*Transaction)

// WithRecorder подключает журнал оформленных заказов.
func WithRecorder(r Recorder) Option {
	return func(t *Transaction) { t.recorder = r }
}

// WithObserver подключает сбор метрик.
func WithObserver(o Observer) Option {
	return func(t *Transaction) { t.observer = o }
}

// New создаёт транзакцию оформления.
func New(s Submitter, n notify.Notifier, logger *zap.Logger, opts ...Option) *Transaction {
	if n == nil {
		n = notify.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transaction{
		submitter: s,
		notifier:  n,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Pending сообщает, ожидается ли ответ на отправленный заказ.
func (t *Transaction) Pending() bool {
	return t.pending.Load()
}

// Checkout отправляет снимок корзины ровно одним запросом.
// При успехе корзина очищается, при любой ошибке остаётся без изменений.
func (t *Transaction) Checkout(ctx context.Context, c *cart.Cart, token string) (*model.Confirmation, error) {
	conf, err := t.checkout(ctx, c, token)

	if t.observer != nil {
		outcome := "placed"
		if err != nil {
			outcome = apperr.Kind(err)
		}
		t.observer.ObserveCheckout(outcome)
	}

	return conf, err
}

func (t *Transaction) checkout(ctx context.Context, c *cart.Cart, token string) (*model.Confirmation, error) {
	lines := c.Lines()
	if len(lines) == 0 {
		t.notifier.Error("Your cart is empty!")
		return nil, apperr.ErrEmptyCart
	}

	if !t.pending.CompareAndSwap(false, true) {
		return nil, apperr.ErrCheckoutPending
	}
	defer t.pending.Store(false)

	req := BuildRequest(lines)

	orderID, err := t.submitter.SubmitOrder(ctx, token, req)
	if err != nil {
		err = classify(err)
		if errors.Is(err, apperr.ErrCheckoutRejected) {
			t.notifier.Error(apperr.Reason(err))
		} else {
			t.notifier.Error(transportMessage)
		}
		t.logger.Warn("checkout failed", zap.Error(err), zap.String("kind", apperr.Kind(err)))
		return nil, err
	}

	c.Clear()
	t.notifier.Success("Order placed!")

	conf := &model.Confirmation{
		OrderID:  orderID,
		Request:  req,
		PlacedAt: t.now(),
	}
	t.logger.Info("order placed", zap.String("order", orderID), zap.String("total", req.TotalAmount.String()))

	if t.recorder != nil {
		if err := t.recorder.RecordPlaced(ctx, *conf); err != nil {
			t.logger.Error("record placed order error", zap.Error(err), zap.String("order", orderID))
		}
	}

	return conf, nil
}

// BuildRequest строит снимок заказа, не связанный с живыми позициями меню.
func BuildRequest(lines []model.CartLine) model.OrderRequest {
	req := model.OrderRequest{
		Lines:       make([]model.OrderLine, 0, len(lines)),
		TotalAmount: decimal.Zero,
	}
	for _, l := range lines {
		req.Lines = append(req.Lines, model.OrderLine{
			Name:      l.Entry.Name,
			UnitPrice: l.Entry.UnitPrice,
			Quantity:  l.Quantity,
		})
		req.TotalAmount = req.TotalAmount.Add(l.Subtotal())
	}
	return req
}

func classify(err error) error {
	var se *canteen.StatusError
	if errors.As(err, &se) {
		return apperr.Reject(apperr.ErrCheckoutRejected, se.Message)
	}
	if errors.Is(err, apperr.ErrTransportFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrTransportFailure, err)
}
