// Package apperr содержит классификацию ошибок жизненного цикла заказа.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrSoldOut              = errors.New("sold out")
	ErrStockExhausted       = errors.New("stock exhausted")
	ErrUnknownEntry         = errors.New("unknown catalog entry")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrCheckoutPending      = errors.New("checkout already in progress")
	ErrCheckoutRejected     = errors.New("checkout rejected")
	ErrTransportFailure     = errors.New("transport failure")
	ErrVerificationRejected = errors.New("verification rejected")
	ErrDecodeNoise          = errors.New("decode noise")
	ErrScanBusy             = errors.New("scan session busy")
	ErrTooManySessions      = errors.New("too many kiosk sessions")
)

// Rejection несёт причину отказа, полученную от сервиса.
type Rejection struct {
	kind   error
	reason string
}

// Reject оборачивает причину отказа так, что errors.Is(err, kind) остаётся истинным.
func Reject(kind error, reason string) error {
	if reason == "" {
		reason = kind.Error()
	}
	return &Rejection{kind: kind, reason: reason}
}

func (r *Rejection) Error() string {
	return r.reason
}

func (r *Rejection) Unwrap() error {
	return r.kind
}

// Reason возвращает текст, пригодный для показа пользователю.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var r *Rejection
	if errors.As(err, &r) {
		return r.reason
	}
	return err.Error()
}

// Kind возвращает короткую метку ошибки для логов и метрик.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrSoldOut):
		return "sold_out"

	case errors.Is(err, ErrStockExhausted):
		return "stock_exhausted"

	case errors.Is(err, ErrUnknownEntry):
		return "unknown_entry"

	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"

	case errors.Is(err, ErrCheckoutPending):
		return "checkout_pending"

	case errors.Is(err, ErrCheckoutRejected):
		return "checkout_rejected"

	case errors.Is(err, ErrVerificationRejected):
		return "verification_rejected"

	case errors.Is(err, ErrTransportFailure):
		return "transport"

	case errors.Is(err, ErrDecodeNoise):
		return "decode_noise"

	case errors.Is(err, ErrScanBusy):
		return "scan_busy"

	case errors.Is(err, ErrTooManySessions):
		return "too_many_sessions"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

// HTTPStatus сопоставляет ошибку со статусом ответа API станции.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrUnknownEntry):
		return http.StatusNotFound

	case errors.Is(err, ErrSoldOut),
		errors.Is(err, ErrStockExhausted),
		errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrCheckoutRejected),
		errors.Is(err, ErrVerificationRejected):
		return http.StatusUnprocessableEntity

	case errors.Is(err, ErrCheckoutPending),
		errors.Is(err, ErrScanBusy):
		return http.StatusConflict

	case errors.Is(err, ErrDecodeNoise):
		return http.StatusAccepted

	case errors.Is(err, ErrTransportFailure):
		return http.StatusBadGateway

	case errors.Is(err, ErrTooManySessions):
		return http.StatusServiceUnavailable

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
