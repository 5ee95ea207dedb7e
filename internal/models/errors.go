package models

import "github.com/pkg/errors"

var (
	// ErrTransient: биржа или хранилище недоступны; читатели уходят в кэш.
	ErrTransient = errors.New("transient network error")
	// ErrValidation: нулевая/отрицательная цена, кривое количество, нет меты инструмента.
	ErrValidation = errors.New("validation error")
	// ErrCapacity: упёрлись в риск-кэп или лимит категории.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrInconsistent: слот и биржа расходятся; лечится только сверкой.
	ErrInconsistent = errors.New("data inconsistency")
	// ErrSafeMode: ключи не прошли проверку, запись на биржу запрещена.
	ErrSafeMode = errors.New("safe mode: exchange writes disabled")
	ErrNoPrice  = errors.New("price unavailable")
)
