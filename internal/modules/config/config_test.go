package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slot_trader/internal/models"
)

func defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(defaults())
	require.NoError(t, err)

	assert.Equal(t, models.ModePaper, cfg.Mode)
	assert.False(t, cfg.Live())
	assert.Equal(t, 10, cfg.Bankroll.MaxSlots)
	assert.Equal(t, models.SlotRange{From: 1, To: 5}, cfg.Bankroll.Fast)
	assert.Equal(t, models.SlotRange{From: 6, To: 10}, cfg.Bankroll.Trend)
	assert.Equal(t, 30*time.Second, cfg.Bankroll.ReaperInterval)
	assert.Equal(t, 120*time.Second, cfg.Bankroll.ReconcileGrace)
	assert.Equal(t, 50.0, cfg.Protocol.Leverage)
	assert.NotEmpty(t, cfg.Protocol.Ladder)
	assert.Equal(t, "1H", cfg.Runner.HTF)
	assert.Equal(t, int64(8), cfg.Pool.Size)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SLOT_MODE", "live")
	t.Setenv("SLOT_BANKROLL_LEVERAGE", "20")

	cfg, err := load(defaults())
	require.NoError(t, err)
	assert.True(t, cfg.Live())
	assert.Equal(t, 20.0, cfg.Protocol.Leverage)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]func(v *viper.Viper){
		"mode":     func(v *viper.Viper) { v.Set("mode", "demo") },
		"overlap":  func(v *viper.Viper) { v.Set("bankroll.fast.to", 7) },
		"range":    func(v *viper.Viper) { v.Set("bankroll.trend.to", 12) },
		"risk cap": func(v *viper.Viper) { v.Set("bankroll.risk_cap", 0.01) },
		"leverage": func(v *viper.Viper) { v.Set("bankroll.leverage", 0) },
		"ema":      func(v *viper.Viper) { v.Set("scorer.ema_fast", 100) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			v := defaults()
			mutate(v)
			_, err := load(v)
			assert.Error(t, err)
		})
	}
}
