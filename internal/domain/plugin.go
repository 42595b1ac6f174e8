package domain

// PluginState — состояние плагина в конечном автомате жизненного цикла.
type PluginState string

const (
	StateRegistered        PluginState = "REGISTERED"         // Манифест принят, доступа нет
	StatePermissionPending PluginState = "PERMISSION_PENDING" // Ждем решения пользователя
	StateActive            PluginState = "ACTIVE"             // Есть хотя бы один грант, сбор данных включен
	StateQuarantined       PluginState = "QUARANTINED"        // Автоматический security-исход (транзитное)
	StateDisabled          PluginState = "DISABLED"           // Выключен (вручную или после карантина)
	StateError             PluginState = "ERROR"              // Порог последовательных сбоев рантайма
)

// Terminal сообщает, находится ли плагин в состоянии без автоматических переходов.
func (s PluginState) Terminal() bool {
	return s == StateDisabled
}

// PluginSecurityState — авторитетная персистируемая запись жизненного цикла.
// Владелец — lifecycle.Manager; внешнее хранилище лишь копия текущей сессии.
type PluginSecurityState struct {
	PluginID      string      `json:"plugin_id"`
	State         PluginState `json:"state"`
	IsCollecting  bool        `json:"is_collecting"`
	Configuration []byte      `json:"configuration,omitempty"` // Опаковый blob настроек плагина
	ErrorCount    int         `json:"error_count"`
	LastError     string      `json:"last_error,omitempty"`
}
