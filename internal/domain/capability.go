package domain

import (
	"fmt"
	"time"
)

// Capability — дискретное именованное разрешение плагина (например, "network").
// Движок работает с capability как с неупорядоченным множеством строк.
type Capability string

// Tier — декларативный уровень чувствительности. Используется только для UI.
type Tier string

const (
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierCritical Tier = "CRITICAL"
)

// CapabilityInfo описывает свойства capability в каталоге.
type CapabilityInfo struct {
	Tier       Tier `json:"tier"`
	RiskWeight int  `json:"risk_weight"` // Врожденный вес риска (для UI/аналитики)
}

// Catalog — статический реестр известных capability.
// Любая capability, встречающаяся в системе, обязана присутствовать в каталоге:
// неизвестные отклоняются на этапе регистрации плагина, а не игнорируются.
type Catalog struct {
	entries map[Capability]CapabilityInfo
}

// NewCatalog возвращает каталог со встроенным набором capability платформы.
func NewCatalog() *Catalog {
	return NewCatalogFrom(map[Capability]CapabilityInfo{
		"network":       {Tier: TierMedium, RiskWeight: 2},
		"location":      {Tier: TierHigh, RiskWeight: 3},
		"health_data":   {Tier: TierCritical, RiskWeight: 5},
		"storage":       {Tier: TierLow, RiskWeight: 1},
		"notifications": {Tier: TierLow, RiskWeight: 1},
		"contacts":      {Tier: TierHigh, RiskWeight: 3},
	})
}

// NewCatalogFrom строит каталог из произвольного набора записей.
func NewCatalogFrom(entries map[Capability]CapabilityInfo) *Catalog {
	c := &Catalog{entries: make(map[Capability]CapabilityInfo, len(entries))}
	for cap, info := range entries {
		c.entries[cap] = info
	}
	return c
}

// Has проверяет наличие capability в каталоге.
func (c *Catalog) Has(cap Capability) bool {
	_, ok := c.entries[cap]
	return ok
}

// Info возвращает свойства capability.
func (c *Catalog) Info(cap Capability) (CapabilityInfo, bool) {
	info, ok := c.entries[cap]
	return info, ok
}

// Validate проверяет, что весь набор известен каталогу.
// Возвращает ErrInvalidCapability с именем первой неизвестной capability.
func (c *Catalog) Validate(caps []Capability) error {
	for _, cap := range caps {
		if !c.Has(cap) {
			return fmt.Errorf("capability %q: %w", cap, ErrInvalidCapability)
		}
	}
	return nil
}

// SecurityManifest — неизменяемый набор запрошенных capability плагина.
// Создается один раз при регистрации; смена набора требует перерегистрации.
type SecurityManifest struct {
	PluginID     string       `json:"plugin_id"`
	Requested    []Capability `json:"requested"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// Requests сообщает, входит ли capability в запрошенный набор.
func (m SecurityManifest) Requests(cap Capability) bool {
	for _, c := range m.Requested {
		if c == cap {
			return true
		}
	}
	return false
}
