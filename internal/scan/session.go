// Package scan реализует сеанс сканирования кода выдачи на стороне персонала.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/canteen-station/internal/apperr"
	"github.com/mmeshcher/canteen-station/internal/canteen"
	"github.com/mmeshcher/canteen-station/internal/model"
	"github.com/mmeshcher/canteen-station/internal/notify"
	"github.com/mmeshcher/canteen-station/internal/validation"
)

const transportMessage = "Could not reach the canteen service, please try again."

// Verifier проверяет считанный код во внешнем сервисе.
type Verifier interface {
	VerifyPickup(ctx context.Context, token, payload string) (*model.Order, error)
}

// Recorder сохраняет результаты проверки в журнал станции.
type Recorder interface {
	RecordVerification(ctx context.Context, sessionID, payload string, order *model.Order, verifyErr error) error
}

// Observer получает итог каждой проверки.
type Observer interface {
	ObserveVerification(outcome string)
}

// Session проводит цикл idle → scanning → verifying → verified|failed.
//
// Устройство захватывается при входе в scanning и освобождается ровно один раз
// при любом выходе из него. Обращения к устройству выполняются без блокировки сеанса,
// результат запуска, устаревший по счётчику поколений, отбрасывается.
type Session struct {
	device   Device
	verifier Verifier
	notifier notify.Notifier
	logger   *zap.Logger
	recorder Recorder
	observer Observer

	mu          sync.Mutex
	id          string
	state       model.ScanState
	lastPayload string
	verified    *model.Order
	errMessage  string
	lease       *lease
	starting    bool
	generation  uint64
}

// Option настраивает сеанс.
type Option func(*Session)

// WithRecorder подключает журнал проверок.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithObserver подключает сбор метрик.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// NewSession создаёт сеанс в состоянии idle.
func NewSession(dev Device, v Verifier, n notify.Notifier, logger *zap.Logger, opts ...Option) *Session {
	if dev == nil {
		dev = NopDevice{}
	}
	if n == nil {
		n = notify.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		device:   dev,
		verifier: v,
		notifier: n,
		logger:   logger,
		state:    model.ScanStateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status возвращает снимок состояния сеанса.
func (s *Session) Status() model.ScanStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() model.ScanStatus {
	st := model.ScanStatus{
		SessionID:    s.id,
		State:        s.state,
		LastPayload:  s.lastPayload,
		ErrorMessage: s.errMessage,
	}
	if s.verified != nil {
		o := *s.verified
		st.VerifiedOrder = &o
	}
	return st
}

// Start переводит сеанс из idle в scanning и запускает устройство.
// Повторный вызов в scanning ничего не делает.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == model.ScanStateScanning:
		s.mu.Unlock()
		return nil
	case s.state != model.ScanStateIdle:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", apperr.ErrScanBusy, state)
	case s.starting:
		s.mu.Unlock()
		return fmt.Errorf("%w: scanner is starting", apperr.ErrScanBusy)
	}
	s.starting = true
	gen := s.generation
	s.mu.Unlock()

	return s.start(ctx, gen)
}

func (s *Session) start(ctx context.Context, gen uint64) error {
	l, err := acquire(ctx, s.device)

	s.mu.Lock()
	s.starting = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("scanner start error", zap.Error(err))
		return err
	}
	if s.generation != gen {
		s.mu.Unlock()
		s.logger.Info("scanner start discarded")
		s.stopDevice(ctx, l, "")
		return fmt.Errorf("%w: session closed while starting", apperr.ErrScanBusy)
	}

	s.generation++
	s.id = uuid.NewString()
	s.lease = l
	s.state = model.ScanStateScanning
	id := s.id
	s.mu.Unlock()

	s.logger.Info("scanning started", zap.String("session", id))
	return nil
}

// Next сбрасывает результат завершённой проверки и снова запускает сканирование.
func (s *Session) Next(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == model.ScanStateScanning:
		s.mu.Unlock()
		return nil
	case s.starting:
		s.mu.Unlock()
		return fmt.Errorf("%w: scanner is starting", apperr.ErrScanBusy)
	case s.state != model.ScanStateIdle && !s.state.IsTerminal():
		s.mu.Unlock()
		return fmt.Errorf("%w: verification in progress", apperr.ErrScanBusy)
	}
	s.resetLocked()
	s.starting = true
	gen := s.generation
	s.mu.Unlock()

	return s.start(ctx, gen)
}

// HandleNoise обрабатывает неудачную попытку распознавания. Состояние не меняется.
func (s *Session) HandleNoise(err error) {
	s.logger.Debug("decode noise", zap.Error(err))
}

// HandleDecode принимает успешно считанный код. Устройство останавливается сразу,
// код отправляется на проверку, сеанс завершается в verified или failed.
// Вне состояния scanning код игнорируется и возвращается ErrScanBusy.
func (s *Session) HandleDecode(ctx context.Context, payload, token string) (model.ScanStatus, error) {
	if !validation.IsPayload(payload) {
		s.HandleNoise(apperr.ErrDecodeNoise)
		return s.Status(), apperr.ErrDecodeNoise
	}

	s.mu.Lock()
	if s.state != model.ScanStateScanning {
		st := s.statusLocked()
		s.mu.Unlock()
		return st, fmt.Errorf("%w: decode ignored in %s", apperr.ErrScanBusy, st.State)
	}
	l := s.lease
	s.lease = nil
	s.state = model.ScanStateVerifying
	s.lastPayload = payload
	gen := s.generation
	sessionID := s.id
	s.mu.Unlock()

	s.stopDevice(ctx, l, sessionID)

	order, err := s.verify(ctx, token, payload)

	s.mu.Lock()
	if s.generation != gen {
		st := s.statusLocked()
		s.mu.Unlock()
		s.logger.Info("verification result discarded", zap.String("session", sessionID))
		return st, nil
	}
	if err != nil {
		s.state = model.ScanStateFailed
		s.errMessage = userMessage(err)
	} else {
		s.state = model.ScanStateVerified
		s.verified = order
	}
	st := s.statusLocked()
	s.mu.Unlock()

	if err != nil {
		s.notifier.Error(st.ErrorMessage)
		s.logger.Warn("verification failed", zap.Error(err), zap.String("payload", payload), zap.String("session", sessionID))
	} else {
		s.notifier.Success("Order Verified!")
		s.logger.Info("order verified", zap.String("order", order.OrderID), zap.String("session", sessionID))
	}

	if s.observer != nil {
		outcome := "verified"
		if err != nil {
			outcome = apperr.Kind(err)
		}
		s.observer.ObserveVerification(outcome)
	}
	if s.recorder != nil {
		if recErr := s.recorder.RecordVerification(ctx, sessionID, payload, order, err); recErr != nil {
			s.logger.Error("record verification error", zap.Error(recErr), zap.String("payload", payload))
		}
	}

	return st, err
}

func (s *Session) verify(ctx context.Context, token, payload string) (*model.Order, error) {
	if s.verifier == nil {
		return nil, fmt.Errorf("%w: verifier not configured", apperr.ErrTransportFailure)
	}

	order, err := s.verifier.VerifyPickup(ctx, token, payload)
	if err == nil {
		return order, nil
	}

	var se *canteen.StatusError
	if errors.As(err, &se) {
		return nil, apperr.Reject(apperr.ErrVerificationRejected, se.Message)
	}
	if errors.Is(err, apperr.ErrTransportFailure) {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", apperr.ErrTransportFailure, err)
}

// Close завершает сеанс: освобождает устройство и отбрасывает незавершённую проверку.
func (s *Session) Close() error {
	s.mu.Lock()
	l := s.lease
	s.lease = nil
	sessionID := s.id
	s.resetLocked()
	s.generation++
	s.mu.Unlock()

	return s.stopDevice(context.Background(), l, sessionID)
}

func (s *Session) stopDevice(ctx context.Context, l *lease, sessionID string) error {
	if l == nil {
		return nil
	}
	err := l.release(ctx)
	if err != nil {
		s.logger.Error("scanner stop error", zap.Error(err), zap.String("session", sessionID))
	}
	return err
}

func (s *Session) resetLocked() {
	s.state = model.ScanStateIdle
	s.lastPayload = ""
	s.verified = nil
	s.errMessage = ""
}

func userMessage(err error) string {
	if errors.Is(err, apperr.ErrVerificationRejected) {
		return apperr.Reason(err)
	}
	return transportMessage
}
