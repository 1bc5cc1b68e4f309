// Package service 串联行情获取、评分、回测、walk-forward 与验证，并把结果写入账本。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"stuntman/internal/backtest"
	"stuntman/internal/decision"
	"stuntman/internal/gateway/database"
	"stuntman/internal/logger"
	"stuntman/internal/market"
	"stuntman/internal/strategy"
	"stuntman/internal/validation"
)

var (
	ErrUnknownStrategy = errors.New("unknown strategy")
	ErrNoCandles       = errors.New("no candles")
)

// Ledger 运行记录与交易账本的持久化接口。
type Ledger interface {
	SaveRun(ctx context.Context, run database.RunRecord, trades []backtest.Trade) error
	UpdateRunStatus(ctx context.Context, id, status string) error
	GetRun(ctx context.Context, id string) (database.RunRecord, []backtest.Trade, error)
	ListRuns(ctx context.Context, limit int) ([]database.RunRecord, error)
	LoadTrades(ctx context.Context, strategies ...string) ([]backtest.Trade, error)
	Strategies(ctx context.Context) ([]string, error)
}

// PresetSource 提供验证阈值预设。
type PresetSource interface {
	Presets() (validation.Presets, error)
}

type Config struct {
	Source      market.Source
	Registry    *strategy.Registry
	Scorer      *decision.Scorer
	Account     decision.Account
	Ledger      Ledger
	Presets     PresetSource
	// Preset 请求未指定时使用的验证预设。
	Preset      string
	Sim         backtest.SimConfig
	WalkForward backtest.WalkForwardConfig
	Symbol      string
	Interval    string
	Limit       int
	Workers     int
	Now         func() time.Time
}

type Service struct {
	cfg  Config
	jobs *jobTable
}

func New(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("strategy registry 不能为空")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger 不能为空")
	}
	if cfg.Scorer == nil {
		cfg.Scorer = decision.NewScorer(decision.DefaultScorerConfig())
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval == "" {
		cfg.Interval = "1h"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	cfg.Sim = backtest.NormalizeSimConfig(cfg.Sim)
	cfg.WalkForward = backtest.NormalizeWalkForwardConfig(cfg.WalkForward)
	return &Service{cfg: cfg, jobs: newJobTable(200, cfg.Now)}, nil
}

// DataRequest 可直接携带 K 线；为空时从 Source 拉取。
type DataRequest struct {
	Symbol  string          `json:"symbol"`
	Candles []market.Candle `json:"candles"`
}

// History 返回请求携带的或从数据源拉取的 K 线，均经过校验。
func (s *Service) History(ctx context.Context, req DataRequest) ([]market.Candle, string, error) {
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		symbol = s.cfg.Symbol
	}
	if len(req.Candles) > 0 {
		if err := market.Validate(req.Candles); err != nil {
			return nil, symbol, err
		}
		return req.Candles, symbol, nil
	}
	if s.cfg.Source == nil {
		return nil, symbol, fmt.Errorf("%w: no data source configured", ErrNoCandles)
	}
	candles, err := s.cfg.Source.FetchHistory(ctx, symbol, s.cfg.Interval, s.cfg.Limit)
	if err != nil {
		return nil, symbol, err
	}
	if len(candles) == 0 {
		return nil, symbol, fmt.Errorf("%w for %s", ErrNoCandles, symbol)
	}
	if err := market.Validate(candles); err != nil {
		return nil, symbol, err
	}
	return candles, symbol, nil
}

// Signal 对最新一根 K 线评分。
func (s *Service) Signal(ctx context.Context, req DataRequest) (decision.Signal, error) {
	candles, symbol, err := s.History(ctx, req)
	if err != nil {
		return decision.Signal{}, err
	}
	sig := s.cfg.Scorer.Score(candles, s.cfg.Account)
	logger.Infof("[service] signal %s %s conf=%.0f net=%.1f", symbol, sig.Action, sig.Confidence, sig.NetScore)
	return sig, nil
}

type BacktestRequest struct {
	DataRequest
	Strategy string `json:"strategy"`
}

type BacktestReport struct {
	RunID  string           `json:"run_id"`
	Symbol string           `json:"symbol"`
	Result backtest.Result  `json:"result"`
	Stats  validation.Stats `json:"stats"`
}

func (s *Service) rule(name string) (strategy.Rule, error) {
	if strings.TrimSpace(name) == "" {
		name = strategy.KindConfluence.String()
	}
	rule, ok := s.cfg.Registry.Resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}
	return rule, nil
}

// Backtest 回测单个策略并保存运行记录。
func (s *Service) Backtest(ctx context.Context, req BacktestRequest) (BacktestReport, error) {
	rule, err := s.rule(req.Strategy)
	if err != nil {
		return BacktestReport{}, err
	}
	criteria, err := s.criteria("")
	if err != nil {
		return BacktestReport{}, fmt.Errorf("criteria: %w", err)
	}
	candles, symbol, err := s.History(ctx, req.DataRequest)
	if err != nil {
		return BacktestReport{}, err
	}
	job := s.jobs.start(JobKindBacktest, JobParams{Strategy: rule.Name(), Symbol: symbol, Interval: s.cfg.Interval, Bars: len(candles)})
	s.checkGaps(job.ID, candles)

	res := backtest.Run(candles, rule, s.cfg.Sim)
	rep, err := s.persistBacktest(ctx, job, symbol, res, criteria)
	s.jobs.finish(job.ID, err, fmt.Sprintf("%d trades, net %.2f", len(res.Trades), res.NetPnL))
	return rep, err
}

// BacktestAll 并发回测多个策略（names 为空时为全部已注册策略），结果按 names 顺序。
func (s *Service) BacktestAll(ctx context.Context, req DataRequest, names []string) ([]BacktestReport, error) {
	if len(names) == 0 {
		names = s.cfg.Registry.Names()
	}
	rules := make([]strategy.Rule, 0, len(names))
	for _, n := range names {
		rule, err := s.rule(n)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	criteria, err := s.criteria("")
	if err != nil {
		return nil, fmt.Errorf("criteria: %w", err)
	}
	candles, symbol, err := s.History(ctx, req)
	if err != nil {
		return nil, err
	}
	results, err := backtest.RunMany(ctx, candles, rules, s.cfg.Sim, s.cfg.Workers)
	if err != nil {
		return nil, err
	}
	out := make([]BacktestReport, 0, len(results))
	for _, res := range results {
		job := s.jobs.start(JobKindBacktest, JobParams{Strategy: res.Strategy, Symbol: symbol, Interval: s.cfg.Interval, Bars: len(candles)})
		rep, err := s.persistBacktest(ctx, job, symbol, res, criteria)
		s.jobs.finish(job.ID, err, fmt.Sprintf("%d trades, net %.2f", len(res.Trades), res.NetPnL))
		if err != nil {
			return out, err
		}
		out = append(out, rep)
	}
	return out, nil
}

func (s *Service) persistBacktest(ctx context.Context, job Job, symbol string, res backtest.Result, criteria validation.Criteria) (BacktestReport, error) {
	stats := validation.Validate(res.Strategy, res.Trades, criteria)
	for _, f := range res.Failures {
		s.jobs.warn(job.ID, f.Error())
	}
	summary, _ := json.Marshal(map[string]any{
		"bars":        res.Bars,
		"failures":    len(res.Failures),
		"halted_days": res.HaltedDays,
		"stopped_at":  res.StoppedAt,
		"stats":       stats,
	})
	config, _ := json.Marshal(s.cfg.Sim)
	run := database.RunRecord{
		ID:        job.ID,
		Strategy:  res.Strategy,
		Symbol:    symbol,
		Interval:  s.cfg.Interval,
		Kind:      JobKindBacktest,
		Status:    JobStatusDone,
		CreatedAt: job.StartedAt,
		Config:    config,
		Summary:   summary,
		NetPnL:    res.NetPnL,
	}
	if err := s.cfg.Ledger.SaveRun(ctx, run, res.Trades); err != nil {
		return BacktestReport{}, fmt.Errorf("save run %s: %w", job.ID, err)
	}
	logger.Infof("[service] backtest %s %s trades=%d net=%.2f run=%s", res.Strategy, symbol, len(res.Trades), res.NetPnL, job.ID)
	return BacktestReport{RunID: job.ID, Symbol: symbol, Result: res, Stats: stats}, nil
}

type WalkForwardRequest struct {
	DataRequest
	Strategy   string `json:"strategy"`
	WindowSize int    `json:"window_size"`
	StepSize   int    `json:"step_size"`
}

type WalkForwardReport struct {
	RunID  string                     `json:"run_id"`
	Symbol string                     `json:"symbol"`
	Result backtest.WalkForwardResult `json:"result"`
}

func (s *Service) WalkForward(ctx context.Context, req WalkForwardRequest) (WalkForwardReport, error) {
	rule, err := s.rule(req.Strategy)
	if err != nil {
		return WalkForwardReport{}, err
	}
	candles, symbol, err := s.History(ctx, req.DataRequest)
	if err != nil {
		return WalkForwardReport{}, err
	}
	wf := s.cfg.WalkForward
	if req.WindowSize > 0 {
		wf.WindowSize = req.WindowSize
	}
	if req.StepSize > 0 {
		wf.StepSize = req.StepSize
	}
	job := s.jobs.start(JobKindWalkForward, JobParams{
		Strategy: rule.Name(), Symbol: symbol, Interval: s.cfg.Interval, Bars: len(candles),
		WindowSize: wf.WindowSize, StepSize: wf.StepSize,
	})
	pending := database.RunRecord{
		ID: job.ID, Strategy: rule.Name(), Symbol: symbol, Interval: s.cfg.Interval,
		Kind: JobKindWalkForward, Status: JobStatusRunning, CreatedAt: job.StartedAt,
	}
	if err := s.cfg.Ledger.SaveRun(ctx, pending, nil); err != nil {
		s.jobs.finish(job.ID, err, "")
		return WalkForwardReport{}, fmt.Errorf("save run %s: %w", job.ID, err)
	}
	res, err := backtest.WalkForward(ctx, candles, rule, wf)
	if err != nil {
		s.jobs.finish(job.ID, err, "")
		// ctx 可能已取消，状态更新使用独立 context。
		if uerr := s.cfg.Ledger.UpdateRunStatus(context.WithoutCancel(ctx), job.ID, JobStatusFailed); uerr != nil {
			logger.Warnf("[service] mark run %s failed: %v", job.ID, uerr)
		}
		return WalkForwardReport{}, err
	}

	trades := make([]backtest.Trade, 0)
	for _, w := range res.Windows {
		trades = append(trades, w.Result.Trades...)
	}
	summary, _ := json.Marshal(map[string]any{
		"windows":           res.TotalWindows,
		"profitable":        res.ProfitableWindows,
		"consistency_score": res.ConsistencyScore,
		"verdict":           res.Verdict,
	})
	config, _ := json.Marshal(wf)
	run := database.RunRecord{
		ID:        job.ID,
		Strategy:  rule.Name(),
		Symbol:    symbol,
		Interval:  s.cfg.Interval,
		Kind:      JobKindWalkForward,
		Status:    JobStatusDone,
		CreatedAt: job.StartedAt,
		Config:    config,
		Summary:   summary,
		NetPnL:    res.TotalPnL,
	}
	err = s.cfg.Ledger.SaveRun(ctx, run, trades)
	s.jobs.finish(job.ID, err, fmt.Sprintf("%s over %d windows", res.Verdict, res.TotalWindows))
	if err != nil {
		return WalkForwardReport{}, fmt.Errorf("save run %s: %w", job.ID, err)
	}
	return WalkForwardReport{RunID: job.ID, Symbol: symbol, Result: res}, nil
}

func (s *Service) Runs(ctx context.Context, limit int) ([]database.RunRecord, error) {
	return s.cfg.Ledger.ListRuns(ctx, limit)
}

func (s *Service) Run(ctx context.Context, id string) (database.RunRecord, []backtest.Trade, error) {
	return s.cfg.Ledger.GetRun(ctx, id)
}

func (s *Service) Jobs() []Job { return s.jobs.list() }

func (s *Service) Job(id string) (Job, bool) { return s.jobs.get(id) }

func (s *Service) criteria(preset string) (validation.Criteria, error) {
	if strings.TrimSpace(preset) == "" {
		preset = s.cfg.Preset
	}
	presets := validation.BuiltinPresets()
	if s.cfg.Presets != nil {
		p, err := s.cfg.Presets.Presets()
		if err != nil {
			return validation.Criteria{}, err
		}
		presets = p
	}
	return presets.Lookup(preset)
}

// Validation 从账本交易池生成报告。
func (s *Service) Validation(ctx context.Context, name, preset string) (validation.Report, error) {
	c, err := s.criteria(preset)
	if err != nil {
		return validation.Report{}, err
	}
	pool, err := s.cfg.Ledger.LoadTrades(ctx, name)
	if err != nil {
		return validation.Report{}, err
	}
	return validation.GenerateReport(name, pool, c, s.cfg.Now()), nil
}

func (s *Service) pool(ctx context.Context) ([]backtest.Trade, []string, error) {
	names, err := s.cfg.Ledger.Strategies(ctx)
	if err != nil {
		return nil, nil, err
	}
	pool, err := s.cfg.Ledger.LoadTrades(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pool, names, nil
}

func (s *Service) Ready(ctx context.Context, preset string) ([]string, error) {
	c, err := s.criteria(preset)
	if err != nil {
		return nil, err
	}
	pool, names, err := s.pool(ctx)
	if err != nil {
		return nil, err
	}
	return validation.ReadyStrategies(pool, names, c), nil
}

func (s *Service) Rank(ctx context.Context, preset string) ([]validation.Ranked, error) {
	c, err := s.criteria(preset)
	if err != nil {
		return nil, err
	}
	pool, names, err := s.pool(ctx)
	if err != nil {
		return nil, err
	}
	return validation.RankStrategies(pool, names, c), nil
}

// StrategyNames 已注册的策略。
func (s *Service) StrategyNames() []string { return s.cfg.Registry.Names() }

func (s *Service) checkGaps(jobID string, candles []market.Candle) {
	step, ok := intervalStep(s.cfg.Interval)
	if !ok {
		return
	}
	rep := market.CheckIntegrity(candles, step)
	if rep.Complete() {
		return
	}
	msg := fmt.Sprintf("%d gaps (%d missing bars); indicators treat bars positionally", len(rep.Gaps), rep.Missing())
	logger.Debugf("[service] %s", msg)
	s.jobs.warn(jobID, msg)
}

func intervalStep(interval string) (time.Duration, bool) {
	switch strings.ToLower(interval) {
	case "1m":
		return time.Minute, true
	case "5m":
		return 5 * time.Minute, true
	case "15m":
		return 15 * time.Minute, true
	case "30m":
		return 30 * time.Minute, true
	case "1h", "60m":
		return time.Hour, true
	case "4h":
		return 4 * time.Hour, true
	case "1d":
		return 24 * time.Hour, true
	}
	return 0, false
}
