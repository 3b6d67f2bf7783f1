// Package service связывает корзины киосков, оформление заказов и сеанс сканирования станции.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/canteen-station/internal/apperr"
	"github.com/mmeshcher/canteen-station/internal/cart"
	"github.com/mmeshcher/canteen-station/internal/catalog"
	"github.com/mmeshcher/canteen-station/internal/checkout"
	"github.com/mmeshcher/canteen-station/internal/model"
	"github.com/mmeshcher/canteen-station/internal/notify"
	"github.com/mmeshcher/canteen-station/internal/scan"
)

const (
	kioskTTL       = 30 * time.Minute
	maxKiosks      = 10_000
	historyDefault = 20
	historyMax     = 200
)

// Remote описывает контракт сервиса столовой, используемый станцией.
type Remote interface {
	catalog.Fetcher
	checkout.Submitter
	scan.Verifier
}

// Journal описывает журнал оформленных заказов и проверок.
type Journal interface {
	checkout.Recorder
	scan.Recorder
	RecentVerifications(ctx context.Context, limit int) ([]model.VerificationRecord, error)
	Close() error
}

// Observer собирает итоги оформления и проверок.
type Observer interface {
	checkout.Observer
	scan.Observer
}

// MenuView содержит отфильтрованное меню для экрана киоска.
type MenuView struct {
	Categories []string
	Entries    []model.CatalogEntry
	FetchedAt  time.Time
}

// CartView содержит состояние корзины для экрана киоска.
type CartView struct {
	Lines   []model.CartLine
	Total   decimal.Decimal
	Pending bool
}

type kiosk struct {
	cart     *cart.Cart
	feed     *notify.Feed
	checkout *checkout.Transaction

	mu   sync.Mutex
	last *model.Confirmation
	seen time.Time
}

// Service содержит логику станции.
type Service struct {
	remote   Remote
	catalog  *catalog.Store
	journal  Journal
	observer Observer
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	kiosks    map[string]*kiosk
	maxKiosks int

	scan      *scan.Session
	staffFeed *notify.Feed
}

// Option настраивает сервис.
type Option func(*Service)

// WithJournal подключает журнал в PostgreSQL.
func WithJournal(j Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithObserver подключает сбор метрик.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// NewService создаёт сервис станции с клиентом сервиса столовой и устройством сканирования.
func NewService(remote Remote, dev scan.Device, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		remote:  remote,
		catalog: catalog.NewStore(remote),
		logger:  logger,
		now:     time.Now,
		kiosks:  make(map[string]*kiosk),

		maxKiosks: maxKiosks,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.staffFeed = notify.NewFeed(0, logger)
	var scanOpts []scan.Option
	if s.journal != nil {
		scanOpts = append(scanOpts, scan.WithRecorder(s.journal))
	}
	if s.observer != nil {
		scanOpts = append(scanOpts, scan.WithObserver(s.observer))
	}
	s.scan = scan.NewSession(dev, remote, s.staffFeed, logger.Named("scan"), scanOpts...)

	return s
}

// Close освобождает устройство сканирования и закрывает журнал.
func (s *Service) Close() error {
	err := s.scan.Close()
	if s.journal != nil {
		if jErr := s.journal.Close(); jErr != nil && err == nil {
			err = jErr
		}
	}
	return err
}

// NewKiosk выдаёт идентификатор нового сеанса киоска.
// Сеанс регистрируется при первом изменении корзины.
func (s *Service) NewKiosk() string {
	return uuid.NewString()
}

// lookupKiosk возвращает зарегистрированный сеанс киоска и продлевает его.
func (s *Service) lookupKiosk(id string) (*kiosk, bool) {
	s.mu.Lock()
	k, ok := s.kiosks[id]
	s.mu.Unlock()
	if ok {
		k.touch(s.now())
	}
	return k, ok
}

// ensureKiosk возвращает сеанс киоска, регистрируя его при необходимости.
func (s *Service) ensureKiosk(id string) (*kiosk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kiosks[id]
	if !ok {
		if len(s.kiosks) >= s.maxKiosks && s.evictIdleLocked() == 0 {
			s.logger.Warn("kiosk registry is full", zap.Int("kiosks", len(s.kiosks)))
			return nil, apperr.ErrTooManySessions
		}

		feed := notify.NewFeed(0, s.logger)
		var opts []checkout.Option
		if s.journal != nil {
			opts = append(opts, checkout.WithRecorder(s.journal))
		}
		if s.observer != nil {
			opts = append(opts, checkout.WithObserver(s.observer))
		}
		k = &kiosk{
			cart:     cart.New(feed),
			feed:     feed,
			checkout: checkout.New(s.remote, feed, s.logger.With(zap.String("kiosk", id)), opts...),
		}
		s.kiosks[id] = k
	}
	k.touch(s.now())
	return k, nil
}

func (k *kiosk) touch(now time.Time) {
	k.mu.Lock()
	k.seen = now
	k.mu.Unlock()
}

// Menu возвращает меню, отфильтрованное по категории и строке поиска.
// Меню загружается при первом обращении или по запросу обновления.
func (s *Service) Menu(ctx context.Context, category, query string, refresh bool) (*MenuView, error) {
	var (
		snap *catalog.Snapshot
		err  error
	)
	if refresh {
		snap, err = s.catalog.Refresh(ctx)
	} else {
		snap, err = s.catalog.Ensure(ctx)
	}
	if err != nil {
		return nil, err
	}

	return &MenuView{
		Categories: snap.Categories(),
		Entries:    snap.Filter(category, query),
		FetchedAt:  snap.FetchedAt(),
	}, nil
}

// AddToCart добавляет позицию меню в корзину киоска.
func (s *Service) AddToCart(ctx context.Context, kioskID, entryID string) error {
	snap, err := s.catalog.Ensure(ctx)
	if err != nil {
		return err
	}

	entry, ok := snap.Lookup(entryID)
	if !ok {
		return fmt.Errorf("%w: %s", apperr.ErrUnknownEntry, entryID)
	}

	k, err := s.ensureKiosk(kioskID)
	if err != nil {
		return err
	}
	return k.cart.AddOrIncrement(entry)
}

// DecreaseQuantity уменьшает количество позиции в корзине киоска.
func (s *Service) DecreaseQuantity(kioskID, entryID string) error {
	if k, ok := s.lookupKiosk(kioskID); ok {
		for _, l := range k.cart.Lines() {
			if l.Entry.ID == entryID {
				k.cart.Decrement(l.Entry)
				return nil
			}
		}
	}

	if _, ok := s.catalog.Current().Lookup(entryID); ok {
		return nil
	}
	return fmt.Errorf("%w: %s", apperr.ErrUnknownEntry, entryID)
}

// Cart возвращает содержимое корзины киоска.
func (s *Service) Cart(kioskID string) *CartView {
	k, ok := s.lookupKiosk(kioskID)
	if !ok {
		return &CartView{Total: decimal.Zero}
	}
	return &CartView{
		Lines:   k.cart.Lines(),
		Total:   k.cart.Total(),
		Pending: k.checkout.Pending(),
	}
}

// Checkout оформляет заказ по корзине киоска.
func (s *Service) Checkout(ctx context.Context, kioskID, token string) (*model.Confirmation, error) {
	k, ok := s.lookupKiosk(kioskID)
	if !ok {
		if s.observer != nil {
			s.observer.ObserveCheckout(apperr.Kind(apperr.ErrEmptyCart))
		}
		return nil, apperr.ErrEmptyCart
	}

	conf, err := k.checkout.Checkout(ctx, k.cart, token)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.last = conf
	k.mu.Unlock()

	return conf, nil
}

// Confirmation возвращает подтверждение последнего заказа киоска с указанным номером.
func (s *Service) Confirmation(kioskID, orderID string) (*model.Confirmation, error) {
	k, ok := s.lookupKiosk(kioskID)
	if !ok {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrUnknownEntry, orderID)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.last == nil || k.last.OrderID != orderID {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrUnknownEntry, orderID)
	}
	c := *k.last
	return &c, nil
}

// Notices возвращает и очищает накопленные уведомления киоска.
func (s *Service) Notices(kioskID string) []notify.Notice {
	k, ok := s.lookupKiosk(kioskID)
	if !ok {
		return nil
	}
	return k.feed.Drain()
}

// ScanStatus возвращает состояние сеанса сканирования.
func (s *Service) ScanStatus() model.ScanStatus {
	return s.scan.Status()
}

// StartScan запускает сканирование.
func (s *Service) StartScan(ctx context.Context) (model.ScanStatus, error) {
	err := s.scan.Start(ctx)
	return s.scan.Status(), err
}

// NextScan сбрасывает результат и запускает сканирование следующего кода.
func (s *Service) NextScan(ctx context.Context) (model.ScanStatus, error) {
	err := s.scan.Next(ctx)
	return s.scan.Status(), err
}

// Decode передаёт считанный код на проверку.
func (s *Service) Decode(ctx context.Context, payload, token string) (model.ScanStatus, error) {
	return s.scan.HandleDecode(ctx, payload, token)
}

// DecodeFailed фиксирует неудачную попытку распознавания.
func (s *Service) DecodeFailed(reason string) model.ScanStatus {
	s.scan.HandleNoise(fmt.Errorf("%w: %s", apperr.ErrDecodeNoise, reason))
	return s.scan.Status()
}

// StaffNotices возвращает и очищает уведомления экрана персонала.
func (s *Service) StaffNotices() []notify.Notice {
	return s.staffFeed.Drain()
}

// History возвращает последние проверки выдачи из журнала.
// Без журнала возвращается пустой список.
func (s *Service) History(ctx context.Context, limit int) ([]model.VerificationRecord, error) {
	if s.journal == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = historyDefault
	}
	if limit > historyMax {
		limit = historyMax
	}
	return s.journal.RecentVerifications(ctx, limit)
}

// StartKioskJanitor запускает фоновое удаление неактивных сеансов киосков.
func (s *Service) StartKioskJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.evictIdle()
			}
		}
	}()
}

func (s *Service) evictIdle() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictIdleLocked()
}

func (s *Service) evictIdleLocked() int {
	cutoff := s.now().Add(-kioskTTL)

	evicted := 0
	for id, k := range s.kiosks {
		k.mu.Lock()
		idle := k.seen.Before(cutoff) && !k.checkout.Pending()
		k.mu.Unlock()
		if idle {
			delete(s.kiosks, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info("idle kiosks evicted", zap.Int("count", evicted))
	}
	return evicted
}
