package signal

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/pluginguard/internal/domain"
	"github.com/xela07ax/pluginguard/internal/infra"
	"go.uber.org/zap"
)

// BarredProvider — источник истины о закрытых плагинах (Postgres).
type BarredProvider interface {
	ListByStates(ctx context.Context, states ...domain.PluginState) ([]string, error)
}

// Watcher держит локальный потокобезопасный кэш закрытых плагинов и
// обновляет его по Redis-сигналам. Самая дешевая проверка в hot path
// рантайм-гейта: ни БД, ни сети.
type Watcher struct {
	mu     sync.RWMutex
	barred map[string]struct{}

	repo   BarredProvider
	rdb    *redis.Client
	logger *zap.Logger
}

func NewWatcher(rdb *redis.Client, repo BarredProvider, logger *zap.Logger) *Watcher {
	return &Watcher{
		barred: make(map[string]struct{}),
		repo:   repo,
		rdb:    rdb,
		logger: logger.With(zap.String("mod", "state-watcher")),
	}
}

// Init прогревает L1 (RAM) и L2 (Redis) при старте инстанса.
func (w *Watcher) Init(ctx context.Context) error {
	ids, err := w.repo.ListByStates(ctx, domain.StateQuarantined, domain.StateDisabled, domain.StateError)
	if err != nil {
		return err
	}

	return warmupState(ctx, w.rdb, w.logger, ids, infra.RedisKeyBarredPlugins, infra.RedisKeyLockWarmupBarred,
		func(items []string) {
			w.mu.Lock()
			defer w.mu.Unlock()
			for _, id := range items {
				w.barred[id] = struct{}{}
			}
		})
}

// StartListener подписывается на переходы жизненного цикла в реальном времени.
// Блокируется до отмены контекста — запускать в отдельной горутине.
func (w *Watcher) StartListener(ctx context.Context) {
	listenStateResilient(ctx, w.rdb, w.logger, infra.RedisChanPluginState,
		func() error { return w.Init(ctx) }, // Синхронизация при переподключении
		func(pluginID string, state domain.PluginState) {
			w.mu.Lock()
			defer w.mu.Unlock()
			if barred(state) {
				w.barred[pluginID] = struct{}{}
			} else {
				delete(w.barred, pluginID)
			}
		},
	)
}

// IsBarred — максимально быстрая проверка для hot path.
func (w *Watcher) IsBarred(pluginID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.barred[pluginID]
	return ok
}

// warmupState — прогрев L1 (RAM) и L2 (Redis) кэшей. Распределенная
// блокировка через SetNX: Redis греет только один инстанс.
func warmupState(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	ids []string,
	redisKey string,
	lockKey string,
	updateL1 func([]string),
) error {
	updateL1(ids)

	ok, err := rdb.SetNX(ctx, lockKey, "processing", 30*time.Second).Result()
	if err != nil || !ok {
		return nil // Либо ошибка сети, либо другой инстанс уже греет кэш
	}

	count, err := rdb.SCard(ctx, redisKey).Result()
	if err != nil {
		count = 0
		logger.Warn("could not check Redis set size, proceeding with warm-up",
			zap.String("key", redisKey), zap.Error(err))
	}

	if count == 0 && len(ids) > 0 {
		logger.Info("Redis cache is empty, performing warm-up from DB...",
			zap.String("key", redisKey), zap.Int("count", len(ids)))

		pipe := rdb.Pipeline()
		for _, id := range ids {
			pipe.SAdd(ctx, redisKey, id)
		}
		_, err = pipe.Exec(ctx)
		return err
	}

	return nil
}

// listenStateResilient — «живучая» подписка: переподключения, ресинк через
// callback, разбор сигналов формата "pluginID:STATE".
func listenStateResilient(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	onReconnect func() error,
	onMessage func(pluginID string, state domain.PluginState),
) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		if err := onReconnect(); err != nil {
			logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				// Состояния не содержат ':', а pluginID может — режем справа
				idx := strings.LastIndex(msg.Payload, ":")
				if idx <= 0 || idx == len(msg.Payload)-1 {
					logger.Error("invalid signal format", zap.String("payload", msg.Payload))
					continue
				}
				onMessage(msg.Payload[:idx], domain.PluginState(msg.Payload[idx+1:]))
			}
		}

		pubsub.Close()
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
