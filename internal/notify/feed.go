// Package notify доставляет пользовательские уведомления интерфейсу станции.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level описывает тип уведомления.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notifier принимает уведомления, показываемые пользователю.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// Notice описывает одно уведомление.
type Notice struct {
	Level   Level
	Message string
	At      time.Time
}

const defaultCapacity = 32

// Feed хранит ограниченную очередь уведомлений, которую забирает интерфейс.
type Feed struct {
	mu       sync.Mutex
	notices  []Notice
	capacity int
	logger   *zap.Logger
}

// NewFeed создаёт очередь уведомлений. При переполнении вытесняются самые старые.
func NewFeed(capacity int, logger *zap.Logger) *Feed {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		capacity: capacity,
		logger:   logger,
	}
}

// Success добавляет уведомление об успехе.
func (f *Feed) Success(msg string) {
	f.push(LevelSuccess, msg)
}

// Error добавляет уведомление об ошибке.
func (f *Feed) Error(msg string) {
	f.push(LevelError, msg)
}

func (f *Feed) push(level Level, msg string) {
	f.logger.Debug("notice", zap.String("level", string(level)), zap.String("message", msg))

	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.notices) == f.capacity {
		f.notices = f.notices[1:]
	}
	f.notices = append(f.notices, Notice{Level: level, Message: msg, At: time.Now()})
}

// Drain возвращает накопленные уведомления и очищает очередь.
func (f *Feed) Drain() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.notices
	f.notices = nil
	return out
}

// Discard игнорирует уведомления.
type Discard struct{}

func (Discard) Success(string) {}

func (Discard) Error(string) {}
