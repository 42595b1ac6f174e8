package domain

import "errors"

var (
	// ErrInvalidCapability — capability нет в каталоге или в манифесте плагина.
	ErrInvalidCapability = errors.New("invalid capability")

	// ErrInvalidTransition — операция жизненного цикла вызвана в неверном состоянии.
	// Состояние при этом не меняется (никаких частичных мутаций).
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrUnknownPlugin — плагин не зарегистрирован в движке.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrAlreadyRegistered — повторная регистрация активного плагина.
	ErrAlreadyRegistered = errors.New("plugin already registered")
)
