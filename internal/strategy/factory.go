package strategy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"stuntman/internal/decision"
)

var ErrUnknownRule = errors.New("unknown strategy rule")

// Spec 描述一条待构建的规则：名称 + 类型 + 参数。
type Spec struct {
	Name   string         `json:"name" toml:"name"`
	Kind   string         `json:"kind" toml:"kind"`
	Params map[string]any `json:"params,omitempty" toml:"params"`
}

// Factory 根据 Spec 构建规则，共享评分配置与账户参数。
type Factory struct {
	Scorer  decision.ScorerConfig
	Account decision.Account
}

func (f *Factory) Build(spec Spec) (Rule, error) {
	kindName := spec.Kind
	if strings.TrimSpace(kindName) == "" {
		kindName = spec.Name
	}
	kind, err := ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = kind.String()
	}
	exits := exitParams{
		StopATR:   floatFromCfg(spec.Params, "stop_atr", 2.0),
		TargetATR: floatFromCfg(spec.Params, "target_atr", 3.0),
		ATRPeriod: intFromCfg(spec.Params, "atr_period", 14),
		Contracts: intFromCfg(spec.Params, "contracts", 1),
		TickSize:  f.Account.TickSize,
	}
	if exits.StopATR <= 0 || exits.TargetATR <= 0 {
		return nil, fmt.Errorf("%s: stop_atr/target_atr 必须为正", name)
	}
	switch kind {
	case KindConfluence:
		return f.buildConfluence(name, spec.Params)
	case KindEMACross:
		fast := intFromCfg(spec.Params, "fast", 9)
		slow := intFromCfg(spec.Params, "slow", 21)
		if fast <= 0 || slow <= fast {
			return nil, fmt.Errorf("%s: 需满足 0 < fast < slow", name)
		}
		return &EMACross{name: name, fast: fast, slow: slow, exits: exits}, nil
	case KindRSIReversion:
		period := intFromCfg(spec.Params, "period", 14)
		oversold := floatFromCfg(spec.Params, "oversold", 30)
		overbought := floatFromCfg(spec.Params, "overbought", 70)
		if period <= 0 || oversold >= overbought {
			return nil, fmt.Errorf("%s: rsi 参数非法", name)
		}
		return &RSIReversion{name: name, period: period, oversold: oversold, overbought: overbought, exits: exits}, nil
	case KindBollingerFade:
		period := intFromCfg(spec.Params, "period", 20)
		k := floatFromCfg(spec.Params, "k", 2)
		if period <= 1 || k <= 0 {
			return nil, fmt.Errorf("%s: bollinger 参数非法", name)
		}
		return &BollingerFade{name: name, period: period, k: k, exits: exits}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, kind)
	}
}

func (f *Factory) buildConfluence(name string, params map[string]any) (Rule, error) {
	cfg := f.Scorer
	if v := floatFromCfg(params, "buy_threshold", 0); v > 0 {
		cfg.BuyThreshold = v
	}
	if v := floatFromCfg(params, "min_strength", 0); v != 0 {
		cfg.MinStrength = v
	}
	if v := floatFromCfg(params, "stop_atr", 0); v > 0 {
		cfg.StopATR = v
	}
	if v := floatFromCfg(params, "target_atr", 0); v > 0 {
		cfg.TargetATR = v
	}
	if v := intFromCfg(params, "lookback", 0); v > 0 {
		cfg.Lookback = v
	}
	return NewConfluence(name, decision.NewScorer(cfg), f.Account), nil
}

func intFromCfg(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func floatFromCfg(params map[string]any, key string, def float64) float64 {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}
