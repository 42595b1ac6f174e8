package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/pluginguard/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// StateSaver — нижележащее хранилище (postgres.StateRepo).
type StateSaver interface {
	Save(ctx context.Context, st domain.PluginSecurityState) error
}

// ReliableStateStore оборачивает запись PluginSecurityState в ретраи с
// бэкоффом, предохранитель и лимитер. Семантика PersistenceFailure:
// транзиентный сбой ретраится, повторяющийся — поднимается вызывающему
// как деградация, движок не блокируется и не падает.
type ReliableStateStore struct {
	next     StateSaver
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	logger   *zap.Logger
}

func NewReliableStateStore(next StateSaver, attempts int, logger *zap.Logger) *ReliableStateStore {
	if attempts <= 0 {
		attempts = 3
	}

	// Настройка предохранителя: серия отказов БД открывает CB,
	// чтобы не копить горутины на мертвом соединении
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "state-store",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	// Переходы жизненного цикла редки; лимитер страхует от шторма записей
	limiter := rate.NewLimiter(rate.Limit(100), 20)

	return &ReliableStateStore{
		next:     next,
		cb:       cb,
		limiter:  limiter,
		attempts: uint(attempts),
		logger:   logger.Named("state-store"),
	}
}

func (s *ReliableStateStore) Save(ctx context.Context, st domain.PluginSecurityState) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(s.attempts),
			retry.DelayType(retry.BackOffDelay),
			retry.OnRetry(func(n uint, err error) {
				s.logger.Warn("retrying state save",
					zap.Uint("attempt", n+1),
					zap.String("plugin_id", st.PluginID),
					zap.Error(err),
				)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return s.next.Save(tCtx, st)
		})
	})
	if err != nil {
		return fmt.Errorf("state persistence failed: %w", err)
	}
	return nil
}
