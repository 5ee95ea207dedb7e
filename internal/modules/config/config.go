package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"slot_trader/internal/bankroll"
	"slot_trader/internal/models"
	paper "slot_trader/internal/modules/paper/service"
	"slot_trader/internal/protocol"
	"slot_trader/internal/scorer"
	"slot_trader/internal/vault"
	"slot_trader/pkg/logger"
	"slot_trader/pkg/tracing"
	"slot_trader/pkg/workpool"
)

const (
	configFilePathENV = "CONFIG_FILE"
	envPrefix         = "SLOT"
)

type OKXConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	APISecret   string  `mapstructure:"api_secret"`
	Passphrase  string  `mapstructure:"passphrase"`
	BaseURL     string  `mapstructure:"base_url"`
	WSPublicURL string  `mapstructure:"ws_public_url"`
	Simulated   bool    `mapstructure:"simulated"`
	RPS         float64 `mapstructure:"rps"`
	// ClockSync: период пересинхронизации времени с биржей
	ClockSync time.Duration `mapstructure:"clock_sync"`
}

func (c OKXConfig) HasCredentials() bool {
	return c.APIKey != "" && c.APISecret != "" && c.Passphrase != ""
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type HealthConfig struct {
	Addr string `mapstructure:"addr"`
}

type RunnerConfig struct {
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	GuardianInterval  time.Duration `mapstructure:"guardian_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	LTF               string        `mapstructure:"ltf"`
	HTF               string        `mapstructure:"htf"`
	Candles           int           `mapstructure:"candles"`
	MinFlow           float64       `mapstructure:"min_flow"`
	MaxCandidates     int           `mapstructure:"max_candidates"`
	WatchTopN         int           `mapstructure:"watch_top_n"`
}

// Config ...
type Config struct {
	Mode     models.Mode     `mapstructure:"mode"`
	DB       string          `mapstructure:"db_dsn"`
	OKX      OKXConfig       `mapstructure:"okx"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Telegram TelegramConfig  `mapstructure:"telegram"`
	Health   HealthConfig    `mapstructure:"health"`
	Tracing  tracing.Config  `mapstructure:"tracing"`
	Log      logger.Config   `mapstructure:"log"`
	Pool     workpool.Config `mapstructure:"pool"`

	Bankroll bankroll.Config `mapstructure:"bankroll"`
	Protocol protocol.Config `mapstructure:"protocol"`
	Paper    paper.Config    `mapstructure:"paper"`
	Vault    vault.Config    `mapstructure:"vault"`
	Scorer   scorer.Config   `mapstructure:"scorer"`
	Runner   RunnerConfig    `mapstructure:"runner"`
}

func (c *Config) Live() bool { return c.Mode == models.ModeLive }

// NewConfig: .env (если есть) -> configs/<CONFIG_FILE> -> переменные SLOT_*.
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	v.SetConfigFile("configs/" + configFileName)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrapf(err, "read config %s", configFileName)
		}
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.Protocol.Leverage = cfg.Bankroll.Leverage
	if len(cfg.Protocol.Ladder) == 0 {
		cfg.Protocol.Ladder = protocol.DefaultLadder()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case models.ModePaper, models.ModeLive:
	default:
		return errors.Errorf("mode must be paper or live, got %q", c.Mode)
	}
	b := c.Bankroll
	if b.MaxSlots <= 0 || b.Fast.From < 1 || b.Trend.To > b.MaxSlots {
		return errors.Errorf("bankroll: slot ranges must fit 1..%d", b.MaxSlots)
	}
	if b.Fast.To >= b.Trend.From && b.Trend.To >= b.Fast.From {
		return errors.New("bankroll: fast and trend ranges overlap")
	}
	if b.MarginPerSlot <= 0 || b.RiskCap < b.MarginPerSlot {
		return errors.New("bankroll: risk_cap must allow at least one slot")
	}
	if b.Leverage <= 0 {
		return errors.New("bankroll: leverage must be positive")
	}
	if c.Scorer.EMAFast >= c.Scorer.EMASlow {
		return errors.New("scorer: ema_fast must be < ema_slow")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(models.ModePaper))

	v.SetDefault("okx.base_url", "https://www.okx.com")
	v.SetDefault("okx.ws_public_url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("okx.rps", 10)
	v.SetDefault("okx.clock_sync", "10m")
	v.SetDefault("okx.api_key", "")
	v.SetDefault("okx.api_secret", "")
	v.SetDefault("okx.passphrase", "")
	v.SetDefault("okx.simulated", false)

	v.SetDefault("db_dsn", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("health.addr", ":8080")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)
	v.SetDefault("pool.size", 8)
	v.SetDefault("pool.call_timeout", "10s")

	v.SetDefault("bankroll.max_slots", 10)
	v.SetDefault("bankroll.fast.from", 1)
	v.SetDefault("bankroll.fast.to", 5)
	v.SetDefault("bankroll.trend.from", 6)
	v.SetDefault("bankroll.trend.to", 10)
	v.SetDefault("bankroll.initial_slots", 2)
	v.SetDefault("bankroll.risk_cap", 0.20)
	v.SetDefault("bankroll.margin_per_slot", 0.05)
	v.SetDefault("bankroll.leverage", 50)
	v.SetDefault("bankroll.fast_stop_pct", 1.0)
	v.SetDefault("bankroll.trend_stop_pct", 2.0)
	v.SetDefault("bankroll.fast_target_pct", 2.0)
	v.SetDefault("bankroll.min_balance", 20)
	v.SetDefault("bankroll.configured_balance", 0)
	v.SetDefault("bankroll.reaper_interval", "30s")
	v.SetDefault("bankroll.reconcile_grace", "120s")

	v.SetDefault("protocol.breakeven_trigger_roi", 50)

	v.SetDefault("paper.interval", "1s")
	v.SetDefault("paper.starting_balance", 100)
	v.SetDefault("paper.state_file", "paper_state.yaml")

	v.SetDefault("vault.cycle_length", 20)
	v.SetDefault("vault.partial_lock", 3)
	v.SetDefault("vault.drag_mode", false)
	v.SetDefault("vault.min_score", 75)
	v.SetDefault("vault.cautious_score", 85)
	v.SetDefault("vault.withdrawal_share", 0.20)

	sc := scorer.DefaultConfig()
	v.SetDefault("scorer.buffer_size", sc.BufferSize)
	v.SetDefault("scorer.flow_scale", sc.FlowScale)
	v.SetDefault("scorer.base_score", sc.BaseScore)
	v.SetDefault("scorer.max_score", sc.MaxScore)
	v.SetDefault("scorer.w_flow", sc.WFlow)
	v.SetDefault("scorer.w_momentum", sc.WMomentum)
	v.SetDefault("scorer.w_trend", sc.WTrend)
	v.SetDefault("scorer.rsi_period", sc.RSIPeriod)
	v.SetDefault("scorer.rsi_reject_band", sc.RSIRejectBand)
	v.SetDefault("scorer.ema_fast", sc.EMAFast)
	v.SetDefault("scorer.ema_slow", sc.EMASlow)
	v.SetDefault("scorer.strong_trend_pct", sc.StrongTrendPct)
	v.SetDefault("scorer.pattern_lookback", sc.PatternLookback)
	v.SetDefault("scorer.box_max_range_pct", sc.BoxMaxRangePct)
	v.SetDefault("scorer.bonus_pullback", sc.BonusPullback)
	v.SetDefault("scorer.bonus_sweep", sc.BonusSweep)
	v.SetDefault("scorer.bonus_trap", sc.BonusTrap)
	v.SetDefault("scorer.bonus_breakout", sc.BonusBreakout)
	v.SetDefault("scorer.bonus_box", sc.BonusBox)
	v.SetDefault("scorer.whale_notional", sc.WhaleNotional)
	v.SetDefault("scorer.whale_bonus", sc.WhaleBonus)
	v.SetDefault("scorer.cooldown", sc.Cooldown.String())
	v.SetDefault("scorer.improvement", sc.Improvement)

	v.SetDefault("runner.scan_interval", "15s")
	v.SetDefault("runner.guardian_interval", "1s")
	v.SetDefault("runner.heartbeat_interval", "30s")
	v.SetDefault("runner.ltf", "5m")
	v.SetDefault("runner.htf", "1H")
	v.SetDefault("runner.candles", 60)
	v.SetDefault("runner.min_flow", 25000)
	v.SetDefault("runner.max_candidates", 8)
	v.SetDefault("runner.watch_top_n", 30)
}
