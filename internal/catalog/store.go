package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/canteen-station/internal/model"
)

const defaultFetchTimeout = 30 * time.Second

// Fetcher получает полный список позиций меню.
type Fetcher interface {
	FetchMenu(ctx context.Context) ([]model.CatalogEntry, error)
}

// Store хранит последний успешно полученный снимок меню.
type Store struct {
	fetcher      Fetcher
	now          func() time.Time
	fetchTimeout time.Duration

	mu      sync.RWMutex
	current *Snapshot

	sfg singleflight.Group
}

// NewStore создаёт хранилище снимков меню.
func NewStore(f Fetcher) *Store {
	return &Store{
		fetcher:      f,
		now:          time.Now,
		fetchTimeout: defaultFetchTimeout,
	}
}

// Current возвращает последний снимок или nil, если меню ещё не загружалось.
func (s *Store) Current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh загружает меню заново. Параллельные вызовы разделяют один запрос,
// который не прерывается отменой контекста отдельного вызывающего.
// При ошибке предыдущий снимок сохраняется.
func (s *Store) Refresh(ctx context.Context) (*Snapshot, error) {
	ch := s.sfg.DoChan("menu", func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		entries, err := s.fetcher.FetchMenu(fetchCtx)
		if err != nil {
			return nil, fmt.Errorf("fetch menu: %w", err)
		}

		snap := NewSnapshot(entries, s.now())

		s.mu.Lock()
		s.current = snap
		s.mu.Unlock()

		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch menu: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// Ensure возвращает текущий снимок, загружая меню при его отсутствии.
func (s *Store) Ensure(ctx context.Context) (*Snapshot, error) {
	if snap := s.Current(); snap != nil {
		return snap, nil
	}
	return s.Refresh(ctx)
}
