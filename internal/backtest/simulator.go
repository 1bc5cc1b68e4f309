package backtest

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"stuntman/internal/decision"
	"stuntman/internal/logger"
	"stuntman/internal/market"
	"stuntman/internal/strategy"
)

// Run 以单一持仓槽位逐 bar 回放 candles。规则在 bar j 只能看到 candles[:j+1]，
// 信号在该 bar 收盘成交，从下一根 bar 开始检查离场。
func Run(candles []market.Candle, rule strategy.Rule, cfg SimConfig) Result {
	cfg = NormalizeSimConfig(cfg)
	res := Result{Strategy: rule.Name(), Bars: len(candles), StoppedAt: -1}
	if len(candles) == 0 {
		return res
	}
	res.Start = candles[0].Time()
	res.End = candles[len(candles)-1].Time()

	sim := simulation{cfg: cfg, rule: rule, res: &res, lastExit: -1 - cfg.CooldownBars, dayPnL: map[string]float64{}}
	for j := range candles {
		if sim.pos != nil {
			sim.checkExit(candles, j)
			continue
		}
		// 最后一根不开仓：没有后续 bar 可供出场。
		if j == len(candles)-1 || res.StoppedAt >= 0 || j < cfg.WarmupBars || j <= sim.lastExit+cfg.CooldownBars || sim.halted(candles[j]) {
			continue
		}
		sim.tryEnter(candles, j)
	}
	if sim.pos != nil {
		last := len(candles) - 1
		sim.close(candles[last], last, candles[last].Close, ExitTime)
	}
	return res
}

type simulation struct {
	cfg      SimConfig
	rule     strategy.Rule
	res      *Result
	pos      *Position
	lastExit int
	dayPnL   map[string]float64
	haltSet  map[string]bool
	peak     float64
}

func (s *simulation) halted(c market.Candle) bool {
	return s.haltSet[dayKey(c.Time())]
}

func (s *simulation) tryEnter(candles []market.Candle, j int) {
	bar := candles[j]
	sig, err := evaluate(s.rule, candles[:j+1:j+1])
	if err != nil {
		s.fail(bar, j, err)
		return
	}
	if !sig.Actionable() {
		return
	}
	dir := Long
	if sig.Action == decision.ActionSell {
		dir = Short
	}
	entry := sig.EntryPrice
	if entry <= 0 {
		entry = bar.Close
	}
	if err := checkLevels(dir, entry, sig.StopLoss, sig.TakeProfit); err != nil {
		s.fail(bar, j, err)
		return
	}
	qty := sig.PositionSize
	if qty <= 0 {
		qty = 1
	}
	if s.cfg.MaxContracts > 0 && qty > s.cfg.MaxContracts {
		qty = s.cfg.MaxContracts
	}
	s.pos = &Position{
		Direction:  dir,
		EntryIndex: j,
		EntryTime:  bar.Time(),
		EntryPrice: entry,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Quantity:   qty,
	}
}

func (s *simulation) checkExit(candles []market.Candle, j int) {
	bar := candles[j]
	if price, kind, ok := intrabarExit(s.pos, bar, s.cfg.IntrabarPolicy); ok {
		s.close(bar, j, price, kind)
		return
	}
	if s.cfg.MaxHoldBars > 0 && j-s.pos.EntryIndex >= s.cfg.MaxHoldBars {
		s.close(bar, j, bar.Close, ExitTime)
	}
}

func (s *simulation) close(bar market.Candle, j int, price float64, kind ExitType) {
	p := s.pos
	gross := p.Direction.Sign() * (price - p.EntryPrice) * s.cfg.ContractMultiplier * float64(p.Quantity)
	pnl := gross - s.cfg.Commission - s.cfg.Slippage
	t := Trade{
		Strategy:   s.res.Strategy,
		Direction:  p.Direction,
		EntryTime:  p.EntryTime,
		EntryPrice: p.EntryPrice,
		ExitTime:   bar.Time(),
		ExitPrice:  price,
		ExitType:   kind,
		Quantity:   p.Quantity,
		PnL:        pnl,
		HoldBars:   j - p.EntryIndex,
		Commission: s.cfg.Commission,
		Slippage:   s.cfg.Slippage,
	}
	s.res.Trades = append(s.res.Trades, t)
	s.res.NetPnL += pnl
	s.pos = nil
	s.lastExit = j

	s.peak = math.Max(s.peak, s.res.NetPnL)
	if s.cfg.DrawdownStop > 0 && s.res.StoppedAt < 0 && s.peak-s.res.NetPnL >= s.cfg.DrawdownStop {
		s.res.StoppedAt = j
		logger.Infof("[backtest] %s drawdown %.2f reached stop %.2f at bar %d", s.res.Strategy, s.peak-s.res.NetPnL, s.cfg.DrawdownStop, j)
	}

	if s.cfg.DailyLossLimit > 0 {
		day := dayKey(t.ExitTime)
		s.dayPnL[day] += pnl
		if s.dayPnL[day] <= -s.cfg.DailyLossLimit && !s.haltSet[day] {
			if s.haltSet == nil {
				s.haltSet = map[string]bool{}
			}
			s.haltSet[day] = true
			s.res.HaltedDays = append(s.res.HaltedDays, day)
		}
	}
}

func (s *simulation) fail(bar market.Candle, j int, err error) {
	f := RuleFailure{Strategy: s.res.Strategy, BarIndex: j, BarTime: bar.Time(), Err: err.Error()}
	logger.Debugf("[backtest] %v", f)
	s.res.Failures = append(s.res.Failures, f)
}

// evaluate 隔离规则的 panic，转成错误返回。
func evaluate(rule strategy.Rule, history []market.Candle) (sig *decision.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debugf("[backtest] rule %s panic: %v\n%s", rule.Name(), r, debug.Stack())
			sig, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return rule.Evaluate(history)
}

func checkLevels(dir Direction, entry, stop, target float64) error {
	for _, v := range []float64{entry, stop, target} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return fmt.Errorf("%w: entry=%.4f stop=%.4f target=%.4f", ErrInvalidSignal, entry, stop, target)
		}
	}
	ok := stop < entry && target > entry
	if dir == Short {
		ok = stop > entry && target < entry
	}
	if !ok {
		return fmt.Errorf("%w: %s entry=%.4f stop=%.4f target=%.4f", ErrInvalidSignal, dir, entry, stop, target)
	}
	return nil
}

// intrabarExit 判断 bar 内是否离场。开盘已越过某一价位时按开盘价成交；
// 两个价位都在区间内时由 policy 决定先后。
func intrabarExit(p *Position, bar market.Candle, policy IntrabarPolicy) (float64, ExitType, bool) {
	var stopHit, targetHit, stopGap, targetGap bool
	if p.Direction == Long {
		stopGap, targetGap = bar.Open <= p.StopLoss, bar.Open >= p.TakeProfit
		stopHit, targetHit = bar.Low <= p.StopLoss, bar.High >= p.TakeProfit
	} else {
		stopGap, targetGap = bar.Open >= p.StopLoss, bar.Open <= p.TakeProfit
		stopHit, targetHit = bar.High >= p.StopLoss, bar.Low <= p.TakeProfit
	}
	switch {
	case stopGap:
		return bar.Open, ExitStopLoss, true
	case targetGap:
		return bar.Open, ExitTakeProfit, true
	case stopHit && targetHit:
		switch policy {
		case TargetFirst:
			return p.TakeProfit, ExitTakeProfit, true
		case NearestOpen:
			if math.Abs(p.TakeProfit-bar.Open) < math.Abs(bar.Open-p.StopLoss) {
				return p.TakeProfit, ExitTakeProfit, true
			}
			return p.StopLoss, ExitStopLoss, true
		default:
			return p.StopLoss, ExitStopLoss, true
		}
	case stopHit:
		return p.StopLoss, ExitStopLoss, true
	case targetHit:
		return p.TakeProfit, ExitTakeProfit, true
	}
	return 0, "", false
}

// RunMany 并发回测多条规则，结果按 rules 顺序返回。ctx 取消后不再启动新的规则。
func RunMany(ctx context.Context, candles []market.Candle, rules []strategy.Rule, cfg SimConfig, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = 4
	}
	out := make([]Result, len(rules))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rule := range rules {
		if err := gctx.Err(); err != nil {
			break
		}
		i, rule := i, rule
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = Run(candles, rule, cfg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// MergeTrades 按 results 顺序拼接账本。
func MergeTrades(results []Result) []Trade {
	n := 0
	for _, r := range results {
		n += len(r.Trades)
	}
	out := make([]Trade, 0, n)
	for _, r := range results {
		out = append(out, r.Trades...)
	}
	return out
}
