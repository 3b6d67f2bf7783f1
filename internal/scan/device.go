package scan

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Device управляет камерой, непрерывно считывающей коды.
type Device interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// lease владеет запущенным устройством до единственного освобождения.
type lease struct {
	dev  Device
	once sync.Once
	err  error
}

func acquire(ctx context.Context, dev Device) (*lease, error) {
	if err := dev.Start(ctx); err != nil {
		return nil, fmt.Errorf("start device: %w", err)
	}
	return &lease{dev: dev}, nil
}

// release останавливает устройство. Повторные вызовы возвращают результат первого.
func (l *lease) release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.once.Do(func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := l.dev.Stop(stopCtx); err != nil {
			l.err = fmt.Errorf("stop device: %w", err)
		}
	})
	return l.err
}

// NopDevice используется, когда драйвер сканера не настроен.
type NopDevice struct{}

func (NopDevice) Start(context.Context) error { return nil }

func (NopDevice) Stop(context.Context) error { return nil }

// HTTPDevice запускает и останавливает внешний драйвер сканера по HTTP.
// Считанные коды драйвер отправляет в API станции.
type HTTPDevice struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPDevice создаёт контроллер драйвера по указанному адресу.
func NewHTTPDevice(baseURL string) *HTTPDevice {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &HTTPDevice{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Start включает камеру.
func (d *HTTPDevice) Start(ctx context.Context) error {
	return d.post(ctx, "/start")
}

// Stop выключает камеру.
func (d *HTTPDevice) Stop(ctx context.Context) error {
	return d.post(ctx, "/stop")
}

func (d *HTTPDevice) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return nil
}
