package service

import (
	"fmt"
	"strings"
	"time"

	"slot_trader/internal/models"
)

func onOff(v bool) string {
	if v {
		return "вкл"
	}
	return "выкл"
}

func FormatStatus(st models.BankrollStatus) string {
	return fmt.Sprintf(
		"📊 Банк (%s)\n\n"+
			"Баланс: %.2f USDT\n"+
			"Риск: %.0f%%\n"+
			"Слоты: %d (без риска %d)\n"+
			"Safe mode: %s\n"+
			"Обновлено: %s",
		st.Mode,
		st.Balance,
		st.RealRisk*100,
		st.OccupiedSlots, st.RiskFreeSlots,
		onOff(st.SafeMode),
		st.UpdatedAt.Format(time.TimeOnly),
	)
}

func FormatSlots(slots []models.Slot) string {
	var b strings.Builder
	n := 0
	for _, s := range slots {
		if !s.Occupied() {
			continue
		}
		n++
		fmt.Fprintf(&b, "#%d %s %s [%s] qty=%g entry=%g stop=%g %s\n",
			s.ID, s.Symbol, strings.ToUpper(string(s.Side)), s.Category,
			s.Quantity, s.EntryPrice, s.CurrentStop, s.RiskStatus)
	}
	if n == 0 {
		return "📭 Все слоты свободны"
	}
	return "🎰 Занятые слоты:\n" + b.String()
}

func FormatCycle(c models.Cycle, minScore float64) string {
	rest := "нет"
	if c.RestUntil.After(time.Now()) {
		rest = "до " + c.RestUntil.Format(time.DateTime)
	}
	return fmt.Sprintf(
		"🔁 Цикл #%d\n\n"+
			"Сделок: %d (+%d / -%d)\n"+
			"Профит: %.2f USDT\n"+
			"Маржа на сделку: %.2f\n"+
			"Min score: %.0f\n"+
			"Drag: %s, осторожный: %s\n"+
			"Отдых: %s\n"+
			"В хранилище: %.2f",
		c.Number,
		c.TradeCount, c.WinCount, c.LossCount,
		c.NetProfit,
		c.PerTradeMargin,
		minScore,
		onOff(c.DragMode), onOff(c.CautiousMode),
		rest,
		c.VaultTotal,
	)
}
