// Package canteen предоставляет клиент для внешнего сервиса столовой.
package canteen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/mmeshcher/canteen-station/internal/apperr"
)

const (
	menuPath     = "/api/menu"
	checkoutPath = "/api/checkout"
	verifyPath   = "/api/orders/verify"

	opMenu     = "menu"
	opCheckout = "checkout"
	opVerify   = "verify"

	maxBodySize = 1 << 20
)

// Observer получает длительность и результат каждого обращения к сервису.
type Observer interface {
	ObserveCall(op string, d time.Duration, err error)
}

// StatusError описывает ответ сервиса с кодом вне диапазона 2xx.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("canteen service responded %d: %s", e.StatusCode, e.Message)
}

// Client инкапсулирует HTTP-взаимодействие с сервисом столовой.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breakers   map[string]*gobreaker.CircuitBreaker[reply]
	observer   Observer
}

// Option настраивает клиент.
type Option func(*Client)

// WithTimeout задаёт таймаут одного запроса.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithObserver подключает наблюдателя за вызовами.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// WithHTTPClient подменяет HTTP-клиент.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient создаёт HTTP-клиент для обращения к сервису столовой по указанному адресу.
func NewClient(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breakers = make(map[string]*gobreaker.CircuitBreaker[reply], 3)
	for _, op := range []string{opMenu, opCheckout, opVerify} {
		c.breakers[op] = newBreaker(op)
	}

	return c
}

// newBreaker создаёт автомат для одной операции.
// Автомат размыкается только на сбоях доставки; отказы сервиса считаются ответом,
// а отмена запроса вызывающей стороной не учитывается.
func newBreaker(op string) *gobreaker.CircuitBreaker[reply] {
	return gobreaker.NewCircuitBreaker[reply](gobreaker.Settings{
		Name:        "canteen-" + op,
		MaxRequests: 1,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled)
		},
	})
}

type reply struct {
	status int
	body   []byte
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, op, method, path, token string, payload any) (reply, error) {
	if c == nil || c.baseURL == "" {
		return reply{}, fmt.Errorf("%w: canteen client not configured", apperr.ErrTransportFailure)
	}

	start := time.Now()
	res, err := c.breakers[op].Execute(func() (reply, error) {
		return c.roundTrip(ctx, method, path, token, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: canteen service unavailable: %v", apperr.ErrTransportFailure, err)
		}
	} else if res.status < 200 || res.status > 299 {
		err = &StatusError{StatusCode: res.status, Message: errorMessage(res)}
	}

	if c.observer != nil {
		c.observer.ObserveCall(op, time.Since(start), err)
	}
	return res, err
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, payload any) (reply, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return reply{}, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return reply{}, fmt.Errorf("%w: create request: %v", apperr.ErrTransportFailure, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return reply{}, fmt.Errorf("%w: do request: %w", apperr.ErrTransportFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return reply{}, fmt.Errorf("%w: read response: %w", apperr.ErrTransportFailure, err)
	}

	return reply{status: resp.StatusCode, body: data}, nil
}

func errorMessage(r reply) string {
	var e errorResponse
	if err := json.Unmarshal(r.body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	if text := strings.TrimSpace(string(r.body)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "{") {
		return text
	}
	return http.StatusText(r.status)
}

func decode(r reply, dst any) error {
	if err := json.Unmarshal(r.body, dst); err != nil {
		return fmt.Errorf("%w: decode response: %w", apperr.ErrTransportFailure, err)
	}
	return nil
}
