package infra

import "fmt"

const (
	// RedisNamespace — базовый префикс для изоляции данных движка в Redis
	RedisNamespace = "plugsec"
)

// Ключи для Sets (состояние)
const (
	// RedisKeyBarredPlugins — плагины, которым доступ закрыт (Quarantined/Disabled)
	RedisKeyBarredPlugins    = RedisNamespace + ":plugins:barred_set"
	RedisKeyLockWarmupBarred = RedisNamespace + ":lock:warmup:barred"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanPluginState — трансляция переходов жизненного цикла ("pluginID:STATE")
	RedisChanPluginState = RedisNamespace + ":plugins:state-signal"
)

// GetWarmupLockKey — генератор ключей блокировок для динамических ресурсов
func GetWarmupLockKey(resource string) string {
	return fmt.Sprintf("%s:lock:warmup:%s", RedisNamespace, resource)
}
