package checkout

import (
	"errors"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/domain"
)

// RetryConfig конфигурация повторов при конфликтах optimistic locking.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      1 * time.Second,
		BackoffFactor: 2.0,
	}
}

// nextDelay возвращает экспоненциальную задержку с ограничением сверху.
func (c RetryConfig) nextDelay(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * c.BackoffFactor)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// shouldRetry определяет, стоит ли повторять транзакцию при данной ошибке.
// Повторяются только проигрыши гонки версий и временные сбои хранилища;
// бизнес-отказы (нехватка остатка, невалидный переход) повторять бессмысленно.
func shouldRetry(err error) bool {
	if domain.IsVersionConflict(err) {
		return true
	}
	return errors.Is(err, domain.ErrStoreUnavailable)
}
