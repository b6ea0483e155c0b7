package domain

import (
	"sync"
	"time"
)

// Clock поставляет временные метки создания/обновления агрегатов.
// Инжектируется, чтобы тесты получали детерминированное время.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock возвращает часы на основе time.Now в UTC.
func SystemClock() Clock { return systemClock{} }

// FixedClock — управляемые часы для тестов.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock создаёт часы, остановленные на заданном моменте.
func NewFixedClock(now time.Time) *FixedClock {
	return &FixedClock{now: now.UTC()}
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает часы вперёд на d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ Clock = systemClock{}
var _ Clock = (*FixedClock)(nil)
