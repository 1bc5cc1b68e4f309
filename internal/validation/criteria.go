package validation

import (
	"errors"
	"fmt"
	"strings"
)

// Criteria 验证阈值；每个阈值都按字面比较，0 也是有效的上限。
type Criteria struct {
	Name            string  `yaml:"name" json:"name" toml:"name"`
	MinTrades       int     `yaml:"min_trades" json:"min_trades" toml:"min_trades"`
	MinWinRate      float64 `yaml:"min_win_rate" json:"min_win_rate" toml:"min_win_rate"`
	MinProfitFactor float64 `yaml:"min_profit_factor" json:"min_profit_factor" toml:"min_profit_factor"`
	MaxDrawdown     float64 `yaml:"max_drawdown" json:"max_drawdown" toml:"max_drawdown"`
	MinDaysTraded   int     `yaml:"min_days_traded" json:"min_days_traded" toml:"min_days_traded"`
	MaxAvgSlippage  float64 `yaml:"max_avg_slippage" json:"max_avg_slippage" toml:"max_avg_slippage"`
	MinConsistency  float64 `yaml:"min_consistency" json:"min_consistency" toml:"min_consistency"`
}

const (
	PresetDefault = "default"
	PresetStrict  = "strict"
)

func DefaultCriteria() Criteria {
	return Criteria{
		Name:            PresetDefault,
		MinTrades:       20,
		MinWinRate:      0.45,
		MinProfitFactor: 1.3,
		MaxDrawdown:     2500,
		MinDaysTraded:   5,
		MaxAvgSlippage:  25,
		MinConsistency:  0.6,
	}
}

func StrictCriteria() Criteria {
	return Criteria{
		Name:            PresetStrict,
		MinTrades:       30,
		MinWinRate:      0.5,
		MinProfitFactor: 1.5,
		MaxDrawdown:     1500,
		MinDaysTraded:   10,
		MaxAvgSlippage:  15,
		MinConsistency:  0.7,
	}
}

// ErrUnknownPreset 预设名不存在。
var ErrUnknownPreset = errors.New("unknown criteria preset")

// Presets 内置预设 + 额外预设（同名时额外预设覆盖内置）。
type Presets map[string]Criteria

func BuiltinPresets() Presets {
	return Presets{PresetDefault: DefaultCriteria(), PresetStrict: StrictCriteria()}
}

func (p Presets) Lookup(name string) (Criteria, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = PresetDefault
	}
	if c, ok := p[key]; ok {
		return c, nil
	}
	return Criteria{}, fmt.Errorf("%w %q", ErrUnknownPreset, name)
}

// Merge 返回合并后的新集合。
func (p Presets) Merge(extra Presets) Presets {
	out := make(Presets, len(p)+len(extra))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range extra {
		key := strings.ToLower(strings.TrimSpace(k))
		if v.Name == "" {
			v.Name = key
		}
		out[key] = v
	}
	return out
}
