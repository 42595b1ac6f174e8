package signal

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/pluginguard/internal/domain"
	"github.com/xela07ax/pluginguard/internal/infra"
	"go.uber.org/zap"
)

// Broadcaster транслирует переходы жизненного цикла в Redis: pub/sub сигнал
// для живых подписчиков плюс set закрытых плагинов для прогрева при старте.
// Сбой Redis не фатален — память движка авторитетна, сигнал догонится
// прогревом при переподключении.
type Broadcaster struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewBroadcaster(rdb *redis.Client, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{rdb: rdb, logger: logger.Named("signal")}
}

// NotifyState реализует lifecycle.StateNotifier.
func (b *Broadcaster) NotifyState(ctx context.Context, pluginID string, state domain.PluginState) {
	// 1. Поддерживаем set закрытых плагинов (для warmup соседних инстансов)
	var err error
	if barred(state) {
		err = b.rdb.SAdd(ctx, infra.RedisKeyBarredPlugins, pluginID).Err()
	} else {
		err = b.rdb.SRem(ctx, infra.RedisKeyBarredPlugins, pluginID).Err()
	}
	if err != nil {
		b.logger.Warn("failed to update barred set",
			zap.String("plugin_id", pluginID), zap.Error(err))
	}

	// 2. Live-сигнал "pluginID:STATE"
	payload := fmt.Sprintf("%s:%s", pluginID, state)
	if err := b.rdb.Publish(ctx, infra.RedisChanPluginState, payload).Err(); err != nil {
		b.logger.Warn("state signal delivery failed",
			zap.String("plugin_id", pluginID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}

func barred(state domain.PluginState) bool {
	switch state {
	case domain.StateQuarantined, domain.StateDisabled, domain.StateError:
		return true
	}
	return false
}
