package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode     string   `yaml:"mode"` // DRY_RUN or LIVE
	Exchange string   `yaml:"exchange"`
	Universe []string `yaml:"universe"`

	Candle struct {
		WindowSeconds  int `yaml:"window_seconds"`
		GraceSeconds   int `yaml:"grace_seconds"`
		MaxForwardFill int `yaml:"max_forward_fill"`
		HistorySize    int `yaml:"history_size"`
	} `yaml:"candle"`

	Strategy struct {
		Precedence       []string `yaml:"precedence"`
		EMAFast          int      `yaml:"ema_fast"`
		EMASlow          int      `yaml:"ema_slow"`
		RSIPeriod        int      `yaml:"rsi_period"`
		RSIOversold      float64  `yaml:"rsi_oversold"`
		RSIOverbought    float64  `yaml:"rsi_overbought"`
		HTFWindowSeconds int      `yaml:"htf_window_seconds"`
		Workers          int      `yaml:"workers"`
	} `yaml:"strategy"`

	Risk struct {
		CapitalBase         float64 `yaml:"capital_base"`
		MaxDailyLossPct     float64 `yaml:"max_daily_loss_pct"`
		PerTradeRiskPct     float64 `yaml:"per_trade_risk_pct"`
		MarketableBufferPct float64 `yaml:"marketable_buffer_pct"`
		MinTick             float64 `yaml:"min_tick"`
	} `yaml:"risk"`

	RateLimit struct {
		Capacity     int     `yaml:"capacity"`
		RefillPerSec float64 `yaml:"refill_per_sec"`
		QueueSize    int     `yaml:"queue_size"`
	} `yaml:"rate_limit"`

	Breaker struct {
		FailureThreshold int `yaml:"failure_threshold"`
		WindowSeconds    int `yaml:"window_seconds"`
		CooldownSeconds  int `yaml:"cooldown_seconds"`
	} `yaml:"breaker"`

	Orders struct {
		AckTimeoutSeconds int `yaml:"ack_timeout_seconds"`
	} `yaml:"orders"`

	Engine struct {
		TickBuffer       int    `yaml:"tick_buffer"`
		CandleBuffer     int    `yaml:"candle_buffer"`
		IntentBuffer     int    `yaml:"intent_buffer"`
		HeartbeatSeconds int    `yaml:"heartbeat_seconds"`
		MetricsAddr      string `yaml:"metrics_addr"`
	} `yaml:"engine"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.Universe) == 0 {
		return errors.New("universe cannot be empty")
	}
	if c.Candle.WindowSeconds <= 0 {
		return fmt.Errorf("candle.window_seconds must be positive, got %d", c.Candle.WindowSeconds)
	}
	if c.Strategy.HTFWindowSeconds%c.Candle.WindowSeconds != 0 {
		return fmt.Errorf("strategy.htf_window_seconds (%d) must be a multiple of candle.window_seconds (%d)",
			c.Strategy.HTFWindowSeconds, c.Candle.WindowSeconds)
	}
	if c.Risk.CapitalBase <= 0 {
		return fmt.Errorf("risk.capital_base must be positive, got %.2f", c.Risk.CapitalBase)
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 100 {
		return fmt.Errorf("risk.max_daily_loss_pct must be between 0-100, got %.2f", c.Risk.MaxDailyLossPct)
	}
	if c.Risk.PerTradeRiskPct <= 0 || c.Risk.PerTradeRiskPct > 100 {
		return fmt.Errorf("risk.per_trade_risk_pct must be between 0-100, got %.2f", c.Risk.PerTradeRiskPct)
	}
	if c.Risk.MarketableBufferPct < 0 || c.Risk.MarketableBufferPct > 10 {
		return fmt.Errorf("risk.marketable_buffer_pct must be between 0-10, got %.2f", c.Risk.MarketableBufferPct)
	}
	if c.RateLimit.Capacity <= 0 || c.RateLimit.RefillPerSec <= 0 {
		return errors.New("rate_limit.capacity and rate_limit.refill_per_sec must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	for _, name := range c.Strategy.Precedence {
		switch name {
		case "ema_alignment", "vwap_trend", "mean_reversion":
		default:
			return fmt.Errorf("unknown strategy '%s' in strategy.precedence", name)
		}
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Candle.WindowSeconds == 0 {
		c.Candle.WindowSeconds = 300
	}
	if c.Candle.GraceSeconds == 0 {
		c.Candle.GraceSeconds = 5
	}
	if c.Candle.MaxForwardFill == 0 {
		c.Candle.MaxForwardFill = 12
	}
	if c.Candle.HistorySize == 0 {
		c.Candle.HistorySize = 200
	}
	if len(c.Strategy.Precedence) == 0 {
		c.Strategy.Precedence = []string{"ema_alignment", "vwap_trend", "mean_reversion"}
	}
	if c.Strategy.EMAFast == 0 {
		c.Strategy.EMAFast = 9
	}
	if c.Strategy.EMASlow == 0 {
		c.Strategy.EMASlow = 21
	}
	if c.Strategy.RSIPeriod == 0 {
		c.Strategy.RSIPeriod = 14
	}
	if c.Strategy.RSIOversold == 0 {
		c.Strategy.RSIOversold = 30
	}
	if c.Strategy.RSIOverbought == 0 {
		c.Strategy.RSIOverbought = 70
	}
	if c.Strategy.HTFWindowSeconds == 0 {
		c.Strategy.HTFWindowSeconds = c.Candle.WindowSeconds * 6
	}
	if c.Strategy.Workers == 0 {
		c.Strategy.Workers = 4
	}
	if c.Risk.MaxDailyLossPct == 0 {
		c.Risk.MaxDailyLossPct = 2.0
	}
	if c.Risk.PerTradeRiskPct == 0 {
		c.Risk.PerTradeRiskPct = 2.0
	}
	if c.Risk.MarketableBufferPct == 0 {
		c.Risk.MarketableBufferPct = 0.25
	}
	if c.Risk.MinTick == 0 {
		c.Risk.MinTick = 0.05
	}
	if c.RateLimit.Capacity == 0 {
		c.RateLimit.Capacity = 5
	}
	if c.RateLimit.RefillPerSec == 0 {
		c.RateLimit.RefillPerSec = 5
	}
	if c.RateLimit.QueueSize == 0 {
		c.RateLimit.QueueSize = 64
	}
	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = 5
	}
	if c.Breaker.WindowSeconds == 0 {
		c.Breaker.WindowSeconds = 60
	}
	if c.Breaker.CooldownSeconds == 0 {
		c.Breaker.CooldownSeconds = 30
	}
	if c.Orders.AckTimeoutSeconds == 0 {
		c.Orders.AckTimeoutSeconds = 10
	}
	if c.Engine.TickBuffer == 0 {
		c.Engine.TickBuffer = 4096
	}
	if c.Engine.CandleBuffer == 0 {
		c.Engine.CandleBuffer = 256
	}
	if c.Engine.IntentBuffer == 0 {
		c.Engine.IntentBuffer = 128
	}
	if c.Engine.HeartbeatSeconds == 0 {
		c.Engine.HeartbeatSeconds = 1
	}
	if c.Engine.MetricsAddr == "" {
		c.Engine.MetricsAddr = ":9100"
	}
}
