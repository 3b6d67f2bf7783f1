// Package main запускает HTTP-сервер станции столовой.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/canteen-station/internal/canteen"
	"github.com/mmeshcher/canteen-station/internal/config"
	"github.com/mmeshcher/canteen-station/internal/handler"
	"github.com/mmeshcher/canteen-station/internal/metrics"
	"github.com/mmeshcher/canteen-station/internal/middleware"
	"github.com/mmeshcher/canteen-station/internal/repository"
	"github.com/mmeshcher/canteen-station/internal/scan"
	"github.com/mmeshcher/canteen-station/internal/service"
)

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}

func main() {
	cfg, err := config.Parse()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sugar := logger.Sugar()

	if cfg.CanteenAPIAddress == "" {
		sugar.Warn("canteen service address is not set, remote calls will fail")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stationMetrics := metrics.NewStation(reg)

	client := canteen.NewClient(cfg.CanteenAPIAddress,
		canteen.WithTimeout(cfg.RequestTimeout),
		canteen.WithObserver(stationMetrics),
	)

	var device scan.Device = scan.NopDevice{}
	if cfg.ScannerAddress != "" {
		device = scan.NewHTTPDevice(cfg.ScannerAddress)
	}

	opts := []service.Option{service.WithObserver(stationMetrics)}
	if cfg.DatabaseURI != "" {
		repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		opts = append(opts, service.WithJournal(repo))
	} else {
		sugar.Info("database URI is not set, station journal disabled")
	}

	svc := service.NewService(client, device, logger, opts...)
	defer svc.Close()

	sessions := middleware.NewSessionMiddleware(cfg.SessionSecret, svc.NewKiosk)
	h := handler.NewHandler(svc, logger, sessions, handler.WithMetrics(stationMetrics, reg))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.StartKioskJanitor(ctx)
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting canteen station", "addr", cfg.RunAddress, "canteen", cfg.CanteenAPIAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Остановка по сигналу или ошибке в другой горутине.
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
