package backend

import "errors"

// Ошибки поверхности удаленного хранилища
var (
	// ErrProjectNotFound строка проекта отсутствует в удаленном хранилище
	ErrProjectNotFound = errors.New("project not found")

	// ErrVersionMismatch явный отказ compare-and-set: удаленная версия
	// не совпала с ожидаемой
	ErrVersionMismatch = errors.New("project version mismatch")

	// ErrSessionExpired сессия истекла; локальные данные сохранены,
	// синхронизация приостановлена до повторного входа
	ErrSessionExpired = errors.New("session expired, local data is safe")

	// ErrUnavailable транзиентная сетевая ошибка (timeout, offline, gateway);
	// повторяется backoff-механизмами и никогда не означает потерю данных
	ErrUnavailable = errors.New("backend temporarily unavailable")
)
