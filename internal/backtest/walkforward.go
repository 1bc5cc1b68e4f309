package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"stuntman/internal/logger"
	"stuntman/internal/market"
	"stuntman/internal/strategy"
)

var ErrInvalidWindow = errors.New("invalid walk-forward window")

type Verdict string

const (
	VerdictConsistent Verdict = "CONSISTENT"
	VerdictMarginal   Verdict = "MARGINAL"
	VerdictAvoid      Verdict = "AVOID"
)

// WalkForwardConfig 窗口参数与判定阈值。
type WalkForwardConfig struct {
	WindowSize      int       `toml:"window_size" json:"window_size"`
	StepSize        int       `toml:"step_size" json:"step_size"`
	Workers         int       `toml:"workers" json:"workers"`
	ConsistentScore float64   `toml:"consistent_score" json:"consistent_score"`
	MarginalScore   float64   `toml:"marginal_score" json:"marginal_score"`
	Sim             SimConfig `toml:"-" json:"sim"`
}

func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{
		WindowSize:      500,
		StepSize:        250,
		Workers:         4,
		ConsistentScore: 0.6,
		MarginalScore:   0.4,
		Sim:             DefaultSimConfig(),
	}
}

// NormalizeWalkForwardConfig 不修正窗口尺寸，非法窗口交给 WalkForward 报错。
func NormalizeWalkForwardConfig(cfg WalkForwardConfig) WalkForwardConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ConsistentScore <= 0 {
		cfg.ConsistentScore = 0.6
	}
	if cfg.MarginalScore <= 0 {
		cfg.MarginalScore = 0.4
	}
	cfg.Sim = NormalizeSimConfig(cfg.Sim)
	return cfg
}

type WindowResult struct {
	Index      int       `json:"index"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Trades     int       `json:"trades"`
	PnL        float64   `json:"pnl"`
	Profitable bool      `json:"profitable"`
	Result     Result    `json:"result"`
}

type WalkForwardResult struct {
	Strategy          string         `json:"strategy"`
	WindowSize        int            `json:"window_size"`
	StepSize          int            `json:"step_size"`
	Windows           []WindowResult `json:"windows"`
	TotalPnL          float64        `json:"total_pnl"`
	ProfitableWindows int            `json:"profitable_windows"`
	TotalWindows      int            `json:"total_windows"`
	ConsistencyScore  float64        `json:"consistency_score"`
	Verdict           Verdict        `json:"verdict"`
}

// WindowCount 返回 n 根 bar 上的窗口数量，参数非法时为 0。
func WindowCount(n, window, step int) int {
	if window <= 0 || step <= 0 || window > n {
		return 0
	}
	return (n-window)/step + 1
}

// WalkForward 在 [s, s+w) 窗口上独立回测，s = 0, step, 2·step...，每个窗口的指标预热从窗口起点重新开始。
// 窗口并发执行，结果按窗口下标存放。ctx 取消只阻止新窗口启动。
func WalkForward(ctx context.Context, candles []market.Candle, rule strategy.Rule, cfg WalkForwardConfig) (WalkForwardResult, error) {
	cfg = NormalizeWalkForwardConfig(cfg)
	out := WalkForwardResult{Strategy: rule.Name(), WindowSize: cfg.WindowSize, StepSize: cfg.StepSize}
	if cfg.WindowSize <= 0 || cfg.StepSize <= 0 {
		return out, fmt.Errorf("%w: window=%d step=%d", ErrInvalidWindow, cfg.WindowSize, cfg.StepSize)
	}
	count := WindowCount(len(candles), cfg.WindowSize, cfg.StepSize)
	if count == 0 {
		return out, fmt.Errorf("%w: window %d exceeds %d candles", ErrInvalidWindow, cfg.WindowSize, len(candles))
	}

	windows := make([]WindowResult, count)
	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	scheduled := 0
	for w := 0; w < count; w++ {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		w := w
		g.Go(func() error {
			start := w * cfg.StepSize
			end := start + cfg.WindowSize
			slice := candles[start:end:end]
			res := Run(slice, rule, cfg.Sim)
			windows[w] = WindowResult{
				Index:      w,
				StartIndex: start,
				EndIndex:   end,
				Start:      res.Start,
				End:        res.End,
				Trades:     len(res.Trades),
				PnL:        res.NetPnL,
				Profitable: res.NetPnL > 0,
				Result:     res,
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		logger.Warnf("[walkforward] %s cancelled after %d/%d windows", rule.Name(), scheduled, count)
		return out, err
	}

	out.Windows = windows
	out.TotalWindows = count
	for _, w := range windows {
		out.TotalPnL += w.PnL
		if w.Profitable {
			out.ProfitableWindows++
		}
	}
	out.ConsistencyScore = float64(out.ProfitableWindows) / float64(out.TotalWindows)
	out.Verdict = verdict(out.ConsistencyScore, out.TotalPnL, cfg)
	logger.Infof("[walkforward] %s windows=%d profitable=%d pnl=%.2f verdict=%s",
		rule.Name(), out.TotalWindows, out.ProfitableWindows, out.TotalPnL, out.Verdict)
	return out, nil
}

func verdict(score, total float64, cfg WalkForwardConfig) Verdict {
	switch {
	case score >= cfg.ConsistentScore && total > 0:
		return VerdictConsistent
	case score >= cfg.MarginalScore || total > 0:
		return VerdictMarginal
	default:
		return VerdictAvoid
	}
}
