// Package config 加载 TOML 配置，并用 .env / 环境变量覆盖少量运行参数。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	str2duration "github.com/xhit/go-str2duration/v2"

	"stuntman/internal/backtest"
	"stuntman/internal/decision"
	"stuntman/internal/strategy"
)

type Config struct {
	Account     AccountConfig     `toml:"account"`
	Instrument  InstrumentConfig  `toml:"instrument"`
	Data        DataConfig        `toml:"data"`
	Signal      SignalConfig      `toml:"signal"`
	Backtest    BacktestConfig    `toml:"backtest"`
	WalkForward WalkForwardConfig `toml:"walkforward"`
	Validation  ValidationConfig  `toml:"validation"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
	Store       StoreConfig       `toml:"store"`
}

type AccountConfig struct {
	Balance        float64 `toml:"balance"`
	MaxRiskPercent float64 `toml:"max_risk_percent"`
	MaxContracts   int     `toml:"max_contracts"`
	// AutoStopDrawdownPercent 回撤达到余额的该比例后停止开仓，0 关闭。
	AutoStopDrawdownPercent float64 `toml:"auto_stop_drawdown_percent"`
}

type InstrumentConfig struct {
	Symbol             string  `toml:"symbol"`
	TickSize           float64 `toml:"tick_size"`
	TickValue          float64 `toml:"tick_value"`
	ContractMultiplier float64 `toml:"contract_multiplier"`
}

type SourceConfig struct {
	Kind    string  `toml:"kind"`
	Symbol  string  `toml:"symbol"`
	Scale   float64 `toml:"scale"`
	BaseURL string  `toml:"base_url"`
	Path    string  `toml:"path"`
}

type DataConfig struct {
	Interval string `toml:"interval"`
	Limit    int    `toml:"limit"`
	// History 例如 "1y"、"90d"；Limit 为 0 时据此推算根数。
	History  string         `toml:"history"`
	Range    string         `toml:"range"`
	CacheTTL string         `toml:"cache_ttl"`
	Timeout  string         `toml:"timeout"`
	Sources  []SourceConfig `toml:"sources"`
}

type SignalConfig struct {
	BuyThreshold float64 `toml:"buy_threshold"`
	MinStrength  float64 `toml:"min_strength"`
	StopATR      float64 `toml:"stop_atr"`
	TargetATR    float64 `toml:"target_atr"`
	MinBars      int     `toml:"min_bars"`
	Lookback     int     `toml:"lookback"`
}

type BacktestConfig struct {
	Commission     float64         `toml:"commission"`
	Slippage       float64         `toml:"slippage"`
	MaxHoldBars    int             `toml:"max_hold_bars"`
	CooldownBars   int             `toml:"cooldown_bars"`
	WarmupBars     int             `toml:"warmup_bars"`
	IntrabarPolicy string          `toml:"intrabar_policy"`
	DailyLossLimit float64         `toml:"daily_loss_limit"`
	Workers        int             `toml:"workers"`
	Strategies     []strategy.Spec `toml:"strategies"`
}

type WalkForwardConfig struct {
	WindowSize int `toml:"window_size"`
	StepSize   int `toml:"step_size"`
	Workers    int `toml:"workers"`
}

type ValidationConfig struct {
	Preset       string `toml:"preset"`
	CriteriaFile string `toml:"criteria_file"`
}

type ServerConfig struct {
	Addr   string `toml:"addr"`
	APIKey string `toml:"api_key"`
}

type LogConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
	JSON  bool   `toml:"json"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

// Default 返回全部默认值（ES 期货，SPY×10 代理回退）。
func Default() Config {
	cfg := Config{}
	Normalize(&cfg)
	return cfg
}

// Load 读取 TOML（path 为空时只用默认值），再依次应用 envFile 与进程环境变量。
func Load(path, envFile string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("读取配置失败: %w", err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("解析配置失败 %s: %w", path, err)
		}
	}
	if strings.TrimSpace(envFile) != "" {
		// 已存在的环境变量优先于 .env 文件。
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("读取 env 文件失败: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	Normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	if v, ok := get("MAX_CONTRACTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_CONTRACTS: %w", err)
		}
		cfg.Account.MaxContracts = n
	}
	if v, ok := get("MAX_DAILY_LOSS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("MAX_DAILY_LOSS: %w", err)
		}
		cfg.Backtest.DailyLossLimit = f
	}
	if v, ok := get("AUTO_STOP_DRAWDOWN_PERCENT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AUTO_STOP_DRAWDOWN_PERCENT: %w", err)
		}
		cfg.Account.AutoStopDrawdownPercent = f
	}
	if v, ok := get("DEFAULT_INSTRUMENT"); ok {
		cfg.Instrument.Symbol = v
	}
	if v, ok := get("API_PORT"); ok {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("API_PORT: %w", err)
		}
		cfg.Server.Addr = ":" + v
	}
	if v, ok := get("API_SECRET_KEY"); ok {
		cfg.Server.APIKey = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	return nil
}

// Normalize 填充默认值。
func Normalize(cfg *Config) {
	if cfg.Account.Balance <= 0 {
		cfg.Account.Balance = 50000
	}
	if cfg.Account.MaxRiskPercent <= 0 {
		cfg.Account.MaxRiskPercent = 1
	}
	if cfg.Account.MaxContracts <= 0 {
		cfg.Account.MaxContracts = 5
	}
	if cfg.Instrument.Symbol == "" {
		cfg.Instrument.Symbol = "ES"
	}
	if cfg.Instrument.TickSize <= 0 {
		cfg.Instrument.TickSize = 0.25
	}
	if cfg.Instrument.TickValue <= 0 {
		cfg.Instrument.TickValue = 12.5
	}
	if cfg.Instrument.ContractMultiplier <= 0 {
		cfg.Instrument.ContractMultiplier = 50
	}
	if cfg.Data.Interval == "" {
		cfg.Data.Interval = "1h"
	}
	if cfg.Data.CacheTTL == "" {
		cfg.Data.CacheTTL = "5m"
	}
	if cfg.Data.Timeout == "" {
		cfg.Data.Timeout = "15s"
	}
	if len(cfg.Data.Sources) == 0 {
		cfg.Data.Sources = []SourceConfig{
			{Kind: "quotes", Symbol: "ES=F", Scale: 1},
			{Kind: "quotes", Symbol: "SPY", Scale: 10},
		}
	}
	if cfg.Signal.MinBars <= 0 {
		cfg.Signal.MinBars = 50
	}
	if cfg.Backtest.WarmupBars <= 0 {
		cfg.Backtest.WarmupBars = cfg.Signal.MinBars
	}
	if cfg.Backtest.MaxHoldBars <= 0 {
		cfg.Backtest.MaxHoldBars = 40
	}
	if cfg.Backtest.Workers <= 0 {
		cfg.Backtest.Workers = 4
	}
	if cfg.Backtest.IntrabarPolicy == "" {
		cfg.Backtest.IntrabarPolicy = string(backtest.StopFirst)
	}
	if len(cfg.Backtest.Strategies) == 0 {
		for _, k := range strategy.Kinds() {
			cfg.Backtest.Strategies = append(cfg.Backtest.Strategies, strategy.Spec{Name: k.String(), Kind: k.String()})
		}
	}
	if cfg.WalkForward.WindowSize <= 0 {
		cfg.WalkForward.WindowSize = 500
	}
	if cfg.WalkForward.StepSize <= 0 {
		cfg.WalkForward.StepSize = cfg.WalkForward.WindowSize / 2
	}
	if cfg.WalkForward.Workers <= 0 {
		cfg.WalkForward.Workers = cfg.Backtest.Workers
	}
	if cfg.Validation.Preset == "" {
		cfg.Validation.Preset = "default"
	}
	if cfg.Validation.CriteriaFile == "" {
		cfg.Validation.CriteriaFile = "criteria.yaml"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "stuntman.db"
	}
}

// Validate 检查无法用默认值修正的字段。
func (c Config) Validate() error {
	if _, err := backtest.ParseIntrabarPolicy(c.Backtest.IntrabarPolicy); err != nil {
		return err
	}
	for _, d := range []struct{ name, value string }{
		{"data.history", c.Data.History},
		{"data.cache_ttl", c.Data.CacheTTL},
		{"data.timeout", c.Data.Timeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := str2duration.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	for i, s := range c.Data.Sources {
		switch strings.ToLower(s.Kind) {
		case "quotes", "binance":
		case "csv":
			if s.Path == "" {
				return fmt.Errorf("data.sources[%d]: csv 需要 path", i)
			}
		default:
			return fmt.Errorf("data.sources[%d]: unknown kind %q", i, s.Kind)
		}
	}
	if c.Backtest.Commission < 0 || c.Backtest.Slippage < 0 {
		return fmt.Errorf("backtest.commission/slippage 不能为负")
	}
	return nil
}

// CacheTTL 已通过 Validate 的时长。
func (c Config) CacheTTL() time.Duration { return mustDuration(c.Data.CacheTTL) }

func (c Config) Timeout() time.Duration { return mustDuration(c.Data.Timeout) }

// HistoryLimit 返回拉取根数：显式 Limit 优先，否则 History / Interval，最少 100。
func (c Config) HistoryLimit() int {
	if c.Data.Limit > 0 {
		return c.Data.Limit
	}
	if c.Data.History == "" {
		return 1000
	}
	step, err := str2duration.ParseDuration(c.Data.Interval)
	if err != nil || step <= 0 {
		return 1000
	}
	n := int(mustDuration(c.Data.History) / step)
	return max(n, 100)
}

func mustDuration(s string) time.Duration {
	d, _ := str2duration.ParseDuration(s)
	return d
}

// AccountParams 组装评分与仓位所需的账户参数。
func (c Config) AccountParams() decision.Account {
	return decision.Account{
		Balance:        c.Account.Balance,
		MaxRiskPercent: c.Account.MaxRiskPercent,
		TickSize:       c.Instrument.TickSize,
		TickValue:      c.Instrument.TickValue,
		MaxContracts:   c.Account.MaxContracts,
	}
}

func (c Config) ScorerConfig() decision.ScorerConfig {
	cfg := decision.DefaultScorerConfig()
	if c.Signal.BuyThreshold > 0 {
		cfg.BuyThreshold = c.Signal.BuyThreshold
	}
	if c.Signal.MinStrength != 0 {
		cfg.MinStrength = c.Signal.MinStrength
	}
	if c.Signal.StopATR > 0 {
		cfg.StopATR = c.Signal.StopATR
	}
	if c.Signal.TargetATR > 0 {
		cfg.TargetATR = c.Signal.TargetATR
	}
	if c.Signal.MinBars > 0 {
		cfg.MinBars = c.Signal.MinBars
	}
	if c.Signal.Lookback > 0 {
		cfg.Lookback = c.Signal.Lookback
	}
	return decision.NormalizeScorerConfig(cfg)
}

func (c Config) SimConfig() backtest.SimConfig {
	policy, _ := backtest.ParseIntrabarPolicy(c.Backtest.IntrabarPolicy)
	sim := backtest.SimConfig{
		ContractMultiplier: c.Instrument.ContractMultiplier,
		Commission:         c.Backtest.Commission,
		Slippage:           c.Backtest.Slippage,
		MaxHoldBars:        c.Backtest.MaxHoldBars,
		CooldownBars:       c.Backtest.CooldownBars,
		WarmupBars:         c.Backtest.WarmupBars,
		IntrabarPolicy:     policy,
		DailyLossLimit:     c.Backtest.DailyLossLimit,
		MaxContracts:       c.Account.MaxContracts,
	}
	if pct := c.Account.AutoStopDrawdownPercent; pct > 0 {
		sim.DrawdownStop = c.Account.Balance * pct / 100
	}
	return backtest.NormalizeSimConfig(sim)
}

func (c Config) WalkForwardConfig() backtest.WalkForwardConfig {
	wf := backtest.DefaultWalkForwardConfig()
	wf.WindowSize = c.WalkForward.WindowSize
	wf.StepSize = c.WalkForward.StepSize
	wf.Workers = c.WalkForward.Workers
	wf.Sim = c.SimConfig()
	return backtest.NormalizeWalkForwardConfig(wf)
}
