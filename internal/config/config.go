package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"RotationSentinel/internal/model"
)

// Strategy holds the immutable rotation engine parameters.
type Strategy struct {
	Pool      []model.Instrument `yaml:"pool"`
	Defensive model.Instrument   `yaml:"defensive"`

	LookbackDays      int     `yaml:"lookback_days"`
	HoldingsNum       int     `yaml:"holdings_num"`
	MinScoreThreshold float64 `yaml:"min_score_threshold"`
	MaxScoreThreshold float64 `yaml:"max_score_threshold"`
	StopLossRatio     float64 `yaml:"stop_loss_ratio"`
	StopLossDays      int     `yaml:"stop_loss_days"`

	UseRSIFilter    bool    `yaml:"use_rsi_filter"`
	RSIPeriod       int     `yaml:"rsi_period"`
	RSILookbackDays int     `yaml:"rsi_lookback_days"`
	RSIThreshold    float64 `yaml:"rsi_threshold"`

	UseShortMomentumFilter bool    `yaml:"use_short_momentum_filter"`
	ShortLookbackDays      int     `yaml:"short_lookback_days"`
	ShortMomentumThreshold float64 `yaml:"short_momentum_threshold"`

	EnableVolumeCheck bool    `yaml:"enable_volume_check"`
	VolumeLookback    int     `yaml:"volume_lookback"`
	VolumeThreshold   float64 `yaml:"volume_threshold"`
	VolumeReturnLimit float64 `yaml:"volume_return_limit"`

	WindowSize   int    `yaml:"window_size"`
	FetchDelayMS int    `yaml:"fetch_delay_ms"`
	Timezone     string `yaml:"timezone"`
}

// DefaultStrategy returns the production fund pool and thresholds.
func DefaultStrategy() Strategy {
	return Strategy{
		Pool: []model.Instrument{
			{Code: "518880.SH", Name: "黄金ETF"},
			{Code: "159985.SZ", Name: "豆粕ETF"},
			{Code: "501018.SH", Name: "南方原油"},
			{Code: "161226.SZ", Name: "白银LOF"},
			{Code: "513100.SH", Name: "纳指ETF"},
			{Code: "159915.SZ", Name: "创业板ETF"},
			{Code: "511220.SH", Name: "城投债ETF"},
		},
		Defensive:              model.Instrument{Code: "511880.SH", Name: "银华日利"},
		LookbackDays:           25,
		HoldingsNum:            1,
		MinScoreThreshold:      0,
		MaxScoreThreshold:      500,
		StopLossRatio:          0.97,
		StopLossDays:           3,
		UseRSIFilter:           true,
		RSIPeriod:              6,
		RSILookbackDays:        1,
		RSIThreshold:           98,
		UseShortMomentumFilter: true,
		ShortLookbackDays:      10,
		ShortMomentumThreshold: 0,
		EnableVolumeCheck:      true,
		VolumeLookback:         5,
		VolumeThreshold:        2.0,
		VolumeReturnLimit:      1.0,
		WindowSize:             50,
		FetchDelayMS:           100,
		Timezone:               "Asia/Shanghai",
	}
}

// FetchDelay is the fixed pause between two instrument fetches.
func (s Strategy) FetchDelay() time.Duration {
	return time.Duration(s.FetchDelayMS) * time.Millisecond
}

// Location resolves the market timezone, falling back to UTC+8.
func (s Strategy) Location() *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	return time.FixedZone("CST", 8*3600)
}

// Validate rejects parameters the engine cannot run with.
func (s Strategy) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: strategy."+format, append([]any{model.ErrInvalidConfiguration}, args...)...)
	}
	if len(s.Pool) == 0 {
		return bad("pool must not be empty")
	}
	seen := make(map[string]bool, len(s.Pool))
	for _, inst := range s.Pool {
		if inst.Code == "" || inst.Name == "" {
			return bad("pool entries need code and name")
		}
		if seen[inst.Code] {
			return bad("duplicate pool code %s", inst.Code)
		}
		seen[inst.Code] = true
	}
	if s.Defensive.Code == "" || s.Defensive.Name == "" {
		return bad("defensive instrument is required")
	}
	if s.LookbackDays <= 0 || s.ShortLookbackDays <= 0 || s.RSIPeriod <= 0 ||
		s.RSILookbackDays <= 0 || s.VolumeLookback <= 0 || s.StopLossDays <= 0 {
		return bad("lookback periods must be positive")
	}
	if s.HoldingsNum < 1 {
		return bad("holdings_num must be at least 1")
	}
	if s.MinScoreThreshold < 0 || s.MaxScoreThreshold <= s.MinScoreThreshold {
		return bad("score thresholds must satisfy 0 <= min < max")
	}
	if s.StopLossRatio <= 0 || s.StopLossRatio > 1 {
		return bad("stop_loss_ratio must be in (0, 1]")
	}
	if s.RSIThreshold < 0 || s.RSIThreshold > 100 {
		return bad("rsi_threshold must be in [0, 100]")
	}
	if s.VolumeThreshold < 0 || s.VolumeReturnLimit < 0 {
		return bad("volume thresholds must be non-negative")
	}
	if s.WindowSize < s.LookbackDays+1 {
		return bad("window_size must be at least lookback_days+1")
	}
	if s.FetchDelayMS < 0 {
		return bad("fetch_delay_ms must be non-negative")
	}
	return nil
}

// Config holds all application configuration.
type Config struct {
	App struct {
		LogLevel    string `yaml:"log_level"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"app"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	DataSource struct {
		Provider string `yaml:"provider"` // tushare, yahoo or mock
		BaseURL  string `yaml:"base_url"`
		Token    string `yaml:"token"`
	} `yaml:"data_source"`
	RemoteSignal struct {
		BaseURL     string `yaml:"base_url"`
		APIKey      string `yaml:"api_key"`
		TimeoutSecs int    `yaml:"timeout_secs"`
	} `yaml:"remote_signal"`
	Schedule struct {
		SignalCron   string `yaml:"signal_cron"`
		SnapshotCron string `yaml:"snapshot_cron"`
		Timezone     string `yaml:"timezone"` // empty follows strategy.timezone
	} `yaml:"schedule"`
	Strategy  Strategy `yaml:"strategy"`
	Portfolio struct {
		StateFile  string               `yaml:"state_file"`
		MirrorFile string               `yaml:"mirror_file"`
		Allocation model.StrategyConfig `yaml:"allocation"`
	} `yaml:"portfolio"`
	Storage struct {
		CacheFile  string `yaml:"cache_file"`
		SignalFile string `yaml:"signal_file"`
	} `yaml:"storage"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies .env and environment variable overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // best-effort

	cfg := &Config{Strategy: DefaultStrategy()}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("TUSHARE_TOKEN"); v != "" {
		cfg.DataSource.Token = v
	}
	if v := os.Getenv("SIGNAL_BASE_URL"); v != "" {
		cfg.RemoteSignal.BaseURL = v
	}
	if v := os.Getenv("SIGNAL_API_KEY"); v != "" {
		cfg.RemoteSignal.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("CRON_SIGNAL"); v != "" {
		cfg.Schedule.SignalCron = v
	}
	if v := os.Getenv("FETCH_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Strategy.FetchDelayMS = ms
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.DataSource.Provider == "" {
		cfg.DataSource.Provider = "tushare"
	}
	if cfg.DataSource.BaseURL == "" && cfg.DataSource.Provider == "tushare" {
		cfg.DataSource.BaseURL = "https://api.tushare.pro"
	}
	if cfg.RemoteSignal.TimeoutSecs == 0 {
		cfg.RemoteSignal.TimeoutSecs = 15
	}
	// Trading-day run before the close, snapshot after it (Asia/Shanghai).
	if cfg.Schedule.SignalCron == "" {
		cfg.Schedule.SignalCron = "0 40 14 * * 1-5"
	}
	if cfg.Schedule.SnapshotCron == "" {
		cfg.Schedule.SnapshotCron = "0 30 15 * * 1-5"
	}
	if cfg.Portfolio.StateFile == "" {
		cfg.Portfolio.StateFile = "data/trading_data.json"
	}
	if cfg.Portfolio.Allocation == (model.StrategyConfig{}) {
		cfg.Portfolio.Allocation = model.DefaultStrategyConfig()
	}
	if cfg.Storage.CacheFile == "" {
		cfg.Storage.CacheFile = "data/bar_cache.json"
	}
	if cfg.Storage.SignalFile == "" {
		cfg.Storage.SignalFile = "data/last_signal.json"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/rotation_sentinel.db"
	}
}

// Validate checks that the configuration can drive the engine and reconciler.
func (c *Config) Validate() error {
	if err := c.Strategy.Validate(); err != nil {
		return err
	}
	if err := c.Portfolio.Allocation.Validate(); err != nil {
		return err
	}
	switch c.DataSource.Provider {
	case "tushare":
		if c.DataSource.Token == "" {
			return fmt.Errorf("%w: data_source.token is required for tushare", model.ErrInvalidConfiguration)
		}
	case "yahoo", "mock":
	default:
		return fmt.Errorf("%w: unknown data_source.provider %q", model.ErrInvalidConfiguration, c.DataSource.Provider)
	}
	if c.RemoteSignal.TimeoutSecs < 0 {
		return fmt.Errorf("%w: remote_signal.timeout_secs must be non-negative", model.ErrInvalidConfiguration)
	}
	if tz := c.Schedule.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("%w: schedule.timezone: %w", model.ErrInvalidConfiguration, err)
		}
	}
	return nil
}

// ScheduleLocation is the timezone cron expressions are read in.
func (c *Config) ScheduleLocation() *time.Location {
	if tz := c.Schedule.Timezone; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	return c.Strategy.Location()
}

// NotifierEnabled reports whether Telegram credentials are present.
func (c *Config) NotifierEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
