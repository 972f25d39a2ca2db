package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"utrade-bots-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Gateway GatewayConfig `yaml:"gateway"`
	Store   StoreConfig   `yaml:"store"`
	Log     logger.Config `yaml:"log"`
	Alert   AlertConfig   `yaml:"alert"`
	Metrics MetricsConfig `yaml:"metrics"`
	Gate    GateConfig    `yaml:"gate"`
	BotIDs  []int64       `yaml:"botIds"`
	Tuning  TuningConfig  `yaml:"tuning"`
}

type GatewayConfig struct {
	APIKey       string `yaml:"apiKey"`
	APISecret    string `yaml:"apiSecret"`
	BaseURL      string `yaml:"baseURL"`
	WSEndpoint   string `yaml:"wsEndpoint"`
	RecvWindowMs int64  `yaml:"recvWindowMs"`
}

type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

type AlertConfig struct {
	ThrottleSec   int    `yaml:"throttleSec"`
	TelegramToken string `yaml:"telegramToken"`
	TelegramChat  string `yaml:"telegramChat"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 如 ":9100"，空则不启动
}

// GateConfig 预测闸门策略文件位置。空路径表示闸门关闭。
type GateConfig struct {
	PolicyPath string `yaml:"policyPath"`
	StatePath  string `yaml:"statePath"`
}

// TuningConfig 调优参数，全部有默认值，可用环境变量覆盖。
type TuningConfig struct {
	PriceEpsPct    float64 `yaml:"priceEpsPct"`    // 对账价格容差
	QtyEpsPct      float64 `yaml:"qtyEpsPct"`      // 对账数量容差
	MinRepriceMs   int64   `yaml:"minRepriceMs"`   // 最小重报价间隔
	MinRepricePct  float64 `yaml:"minRepricePct"`  // 触发重报价的价格偏移
	VolCooldownMs  int64   `yaml:"volCooldownMs"`  // 刷量成交后的重报价冷却
	InvAlpha       float64 `yaml:"invAlpha"`       // 库存比例 EMA 平滑系数
	SafetyMult     float64 `yaml:"safetyMult"`     // 刷量定价安全乘数
	VolTTLActiveMs int64   `yaml:"volTtlActiveMs"` // ACTIVE 模式刷量单 TTL
	FillsEveryMs   int64   `yaml:"fillsEveryMs"`   // 成交同步周期
	ConfigEveryMs  int64   `yaml:"configEveryMs"`  // 配置重读周期
}

// DefaultTuning 返回默认调优参数。
func DefaultTuning() TuningConfig {
	return TuningConfig{
		PriceEpsPct:    0.005,
		QtyEpsPct:      0.02,
		MinRepriceMs:   20000,
		MinRepricePct:  0.001,
		VolCooldownMs:  10000,
		InvAlpha:       0.2,
		SafetyMult:     1.0,
		VolTTLActiveMs: 8000,
		FillsEveryMs:   3000,
		ConfigEveryMs:  5000,
	}
}

func (t TuningConfig) withDefaults() TuningConfig {
	def := DefaultTuning()
	if t.PriceEpsPct <= 0 {
		t.PriceEpsPct = def.PriceEpsPct
	}
	if t.QtyEpsPct <= 0 {
		t.QtyEpsPct = def.QtyEpsPct
	}
	if t.MinRepriceMs <= 0 {
		t.MinRepriceMs = def.MinRepriceMs
	}
	if t.MinRepricePct <= 0 {
		t.MinRepricePct = def.MinRepricePct
	}
	if t.VolCooldownMs <= 0 {
		t.VolCooldownMs = def.VolCooldownMs
	}
	if t.InvAlpha <= 0 || t.InvAlpha > 1 {
		t.InvAlpha = def.InvAlpha
	}
	if t.SafetyMult <= 0 {
		t.SafetyMult = def.SafetyMult
	}
	if t.VolTTLActiveMs <= 0 {
		t.VolTTLActiveMs = def.VolTTLActiveMs
	}
	if t.FillsEveryMs <= 0 {
		t.FillsEveryMs = def.FillsEveryMs
	}
	if t.ConfigEveryMs <= 0 {
		t.ConfigEveryMs = def.ConfigEveryMs
	}
	return t
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.Tuning = cfg.Tuning.withDefaults()
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields and
// tuning knobs from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("BOT_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("BOT_GATEWAY_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if v := os.Getenv("BOT_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("BOT_TELEGRAM_TOKEN"); v != "" {
		cfg.Alert.TelegramToken = v
	}
	if v := os.Getenv("BOT_TELEGRAM_CHAT"); v != "" {
		cfg.Alert.TelegramChat = v
	}
	overrideFloat("BOT_PRICE_EPS_PCT", &cfg.Tuning.PriceEpsPct)
	overrideFloat("BOT_QTY_EPS_PCT", &cfg.Tuning.QtyEpsPct)
	overrideInt("BOT_MIN_REPRICE_MS", &cfg.Tuning.MinRepriceMs)
	overrideFloat("BOT_MIN_REPRICE_PCT", &cfg.Tuning.MinRepricePct)
	overrideInt("BOT_VOL_COOLDOWN_MS", &cfg.Tuning.VolCooldownMs)
	overrideFloat("BOT_INV_ALPHA", &cfg.Tuning.InvAlpha)
	overrideFloat("BOT_SAFETY_MULT", &cfg.Tuning.SafetyMult)
	overrideInt("BOT_VOL_TTL_ACTIVE_MS", &cfg.Tuning.VolTTLActiveMs)
	return cfg, Validate(cfg)
}

func overrideFloat(env string, dst *float64) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			*dst = f
		}
	}
}

func overrideInt(env string, dst *int64) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			*dst = n
		}
	}
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "" {
		return errors.New("gateway.apiKey/apiSecret is required (or env overrides)")
	}
	if cfg.Gateway.BaseURL == "" {
		return errors.New("gateway.baseURL is required")
	}
	if cfg.Store.DSN == "" {
		return errors.New("store.dsn is required (or BOT_STORE_DSN)")
	}
	if len(cfg.BotIDs) == 0 {
		return errors.New("botIds is required")
	}
	t := cfg.Tuning
	if t.PriceEpsPct <= 0 || t.PriceEpsPct >= 1 {
		return fmt.Errorf("tuning.priceEpsPct out of range: %v", t.PriceEpsPct)
	}
	if t.QtyEpsPct <= 0 || t.QtyEpsPct >= 1 {
		return fmt.Errorf("tuning.qtyEpsPct out of range: %v", t.QtyEpsPct)
	}
	if t.InvAlpha <= 0 || t.InvAlpha > 1 {
		return fmt.Errorf("tuning.invAlpha out of range: %v", t.InvAlpha)
	}
	return nil
}
