package vault

import (
	"slot_trader/internal/helper"
	"slot_trader/internal/models"
)

// IsSymbolLocked: чистая проверка диверсификации по истории цикла.
// В drag-режиме любой вход символа в текущем цикле блокирует его до конца цикла.
// Иначе символ заблокирован, пока nextIndex - index < m хотя бы для одной записи.
func IsSymbolLocked(history []models.UsedSymbol, symbol string, nextIndex int, drag bool, m int) bool {
	sym := helper.NormalizeSymbol(symbol)
	for _, u := range history {
		if helper.NormalizeSymbol(u.Symbol) != sym {
			continue
		}
		if drag {
			return true
		}
		if nextIndex-u.Index < m {
			return true
		}
	}
	return false
}
