package main

import (
	"context"
	"fmt"
	"strings"

	"stuntman/internal/config"
	"stuntman/internal/config/writer"
	"stuntman/internal/decision"
	"stuntman/internal/gateway/binance"
	"stuntman/internal/gateway/database"
	"stuntman/internal/gateway/quotes"
	"stuntman/internal/logger"
	"stuntman/internal/market"
	"stuntman/internal/service"
	"stuntman/internal/store"
	"stuntman/internal/strategy"
)

// app 持有一次命令执行所需的全部组件。
type app struct {
	cfg      config.Config
	source   market.Source
	registry *strategy.Registry
	ledger   *database.LedgerStore
	criteria *writer.CriteriaWriter
	svc      *service.Service
}

func buildSource(cfg config.Config) (market.Source, error) {
	legs := make([]market.Leg, 0, len(cfg.Data.Sources))
	for i, sc := range cfg.Data.Sources {
		var src market.Source
		switch strings.ToLower(sc.Kind) {
		case "quotes":
			src = quotes.New(quotes.Config{BaseURL: sc.BaseURL, Range: cfg.Data.Range, Timeout: cfg.Timeout()})
		case "binance":
			src = binance.New(binance.Config{RESTBaseURL: sc.BaseURL, HTTPTimeout: cfg.Timeout()})
		case "csv":
			src = market.CSVSource{Path: sc.Path}
		default:
			return nil, fmt.Errorf("data.sources[%d]: unknown kind %q", i, sc.Kind)
		}
		legs = append(legs, market.Leg{Source: src, Symbol: sc.Symbol, Scale: sc.Scale})
	}
	var src market.Source = market.NewFallbackSource(legs...)
	if ttl := cfg.CacheTTL(); ttl > 0 {
		src = &store.CachedSource{Source: src, Store: store.NewMemoryCandleStore(), TTL: ttl}
	}
	return src, nil
}

func buildRegistry(cfg config.Config) (*strategy.Registry, error) {
	reg := strategy.NewRegistry(&strategy.Factory{Scorer: cfg.ScorerConfig(), Account: cfg.AccountParams()})
	n, err := reg.Load(cfg.Backtest.Strategies)
	if err != nil {
		return nil, err
	}
	logger.Debugf("[main] %d strategies registered: %s", n, strings.Join(reg.Names(), ","))
	return reg, nil
}

// newApp 组装依赖；needLedger=false 时不打开数据库。
func newApp(ctx context.Context, cfg config.Config, needLedger bool) (*app, error) {
	src, err := buildSource(cfg)
	if err != nil {
		return nil, err
	}
	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		source:   src,
		registry: reg,
		criteria: writer.NewCriteriaWriter(cfg.Validation.CriteriaFile),
	}
	if !needLedger {
		return a, nil
	}
	a.ledger, err = database.OpenLedgerStore(ctx, cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	a.svc, err = service.New(service.Config{
		Source:      src,
		Registry:    reg,
		Scorer:      decision.NewScorer(cfg.ScorerConfig()),
		Account:     cfg.AccountParams(),
		Ledger:      a.ledger,
		Presets:     a.criteria,
		Preset:      cfg.Validation.Preset,
		Sim:         cfg.SimConfig(),
		WalkForward: cfg.WalkForwardConfig(),
		Symbol:      cfg.Instrument.Symbol,
		Interval:    cfg.Data.Interval,
		Limit:       cfg.HistoryLimit(),
		Workers:     cfg.Backtest.Workers,
	})
	if err != nil {
		_ = a.ledger.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logger.Warnf("[main] close ledger: %v", err)
		}
	}
}
