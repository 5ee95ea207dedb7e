package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slot_trader/internal/bankroll"
	store "slot_trader/internal/modules/slot_store/service"
	"slot_trader/internal/modules/telegram_bot/service"
	"slot_trader/internal/vault"
)

const confirmTimeout = 30 * time.Second

// registerCommands: команды оператора поверх аллокатора и CycleVault.
func registerCommands(t *service.Telegram, a *bankroll.Allocator, v *vault.Vault, st *store.Store) {
	t.Handle("status", "баланс, риск и занятость", func(context.Context, string) string {
		return service.FormatStatus(a.Status())
	})

	t.Handle("slots", "занятые слоты", func(ctx context.Context, _ string) string {
		slots, err := st.Slots(ctx)
		if err != nil && len(slots) == 0 {
			return "⚠️ Слоты недоступны: " + err.Error()
		}
		return service.FormatSlots(slots)
	})

	t.Handle("cycle", "состояние цикла", func(context.Context, string) string {
		return service.FormatCycle(v.Snapshot(), v.MinScore())
	})

	t.Handle("rest", "пауза торговли, например /rest 2h", func(ctx context.Context, args string) string {
		d, err := time.ParseDuration(args)
		if err != nil || d <= 0 {
			return "Формат: /rest 2h"
		}
		if err := v.ActivateRest(ctx, d); err != nil {
			return "⚠️ " + err.Error()
		}
		return fmt.Sprintf("😴 Пауза до %s", time.Now().Add(d).Format(time.DateTime))
	})

	t.Handle("drag", "drag mode on|off", toggle(func(ctx context.Context, on bool) error { return v.SetDragMode(ctx, on) }, "Drag mode"))
	t.Handle("cautious", "осторожный режим on|off", toggle(func(ctx context.Context, on bool) error { return v.SetCautiousMode(ctx, on) }, "Осторожный режим"))

	t.Handle("withdraw", "записать вывод из хранилища, например /withdraw 25", func(ctx context.Context, args string) string {
		if args == "" {
			return fmt.Sprintf("Рекомендуемый вывод: %.2f USDT", v.RecommendedWithdrawal())
		}
		var amount float64
		if _, err := fmt.Sscanf(args, "%g", &amount); err != nil || amount <= 0 {
			return "Формат: /withdraw 25"
		}
		if err := v.RecordWithdrawal(ctx, amount); err != nil {
			return "⚠️ " + err.Error()
		}
		return fmt.Sprintf("💸 Вывод %.2f записан", amount)
	})

	t.Handle("close_all", "аварийно закрыть все позиции", func(ctx context.Context, _ string) string {
		if !t.Confirm(ctx, "🚨 Закрыть все позиции по рынку?", confirmTimeout) {
			return "Отменено"
		}
		n := a.EmergencyCloseAll(ctx)
		return fmt.Sprintf("Закрыто позиций: %d", n)
	})
}

func toggle(set func(ctx context.Context, on bool) error, title string) service.Command {
	return func(ctx context.Context, args string) string {
		var on bool
		switch strings.ToLower(args) {
		case "on", "1", "вкл":
			on = true
		case "off", "0", "выкл":
		default:
			return "Формат: on | off"
		}
		if err := set(ctx, on); err != nil {
			return "⚠️ " + err.Error()
		}
		if on {
			return title + ": вкл"
		}
		return title + ": выкл"
	}
}
