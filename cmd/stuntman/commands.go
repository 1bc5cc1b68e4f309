package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"stuntman/internal/backtest"
	"stuntman/internal/logger"
	"stuntman/internal/market"
	"stuntman/internal/report"
	"stuntman/internal/service"
	"stuntman/internal/transport/http/api"
	"stuntman/internal/validation"
)

var (
	symbolFlag = &cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "instrument symbol (defaults to instrument.symbol)"}
	csvFlag    = &cli.StringFlag{Name: "csv", Usage: "read candles from a CSV file instead of the data sources"}
	presetFlag = &cli.StringFlag{Name: "preset", Aliases: []string{"p"}, Usage: "validation criteria preset"}
	htmlFlag   = &cli.StringFlag{Name: "html", Usage: "write an HTML chart report to this path"}
)

// dataRequest 优先读取 --csv 文件。
func dataRequest(ctx context.Context, c *cli.Context) (service.DataRequest, error) {
	req := service.DataRequest{Symbol: c.String("symbol")}
	path := c.String("csv")
	if path == "" {
		return req, nil
	}
	candles, err := market.CSVSource{Path: path}.FetchHistory(ctx, req.Symbol, "", 0)
	if err != nil {
		return req, err
	}
	req.Candles = candles
	return req, nil
}

func writeHTML(path string, results []backtest.Result, wf []backtest.WalkForwardResult) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.RenderHTML(f, results, wf); err != nil {
		_ = f.Close()
		return err
	}
	logger.Infof("[main] chart written to %s", path)
	return f.Close()
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "download history through the configured sources and write CSV",
		Flags: []cli.Flag{
			symbolFlag,
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (stdout when empty)"},
			&cli.IntFlag{Name: "precision", Value: market.PrecisionAuto, Usage: "price decimals, -1 keeps raw values"},
		},
		Action: withApp(false, func(ctx context.Context, c *cli.Context, a *app) error {
			symbol := c.String("symbol")
			if symbol == "" {
				symbol = a.cfg.Instrument.Symbol
			}
			candles, err := a.source.FetchHistory(ctx, symbol, a.cfg.Data.Interval, a.cfg.HistoryLimit())
			if err != nil {
				return err
			}
			out := os.Stdout
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return market.WriteCSV(out, candles, c.Int("precision"))
		}),
	}
}

func signalCommand() *cli.Command {
	return &cli.Command{
		Name:  "signal",
		Usage: "score the latest bar",
		Flags: []cli.Flag{symbolFlag, csvFlag},
		Action: withApp(true, func(ctx context.Context, c *cli.Context, a *app) error {
			req, err := dataRequest(ctx, c)
			if err != nil {
				return err
			}
			sig, err := a.svc.Signal(ctx, req)
			if err != nil {
				return err
			}
			symbol := req.Symbol
			if symbol == "" {
				symbol = a.cfg.Instrument.Symbol
			}
			report.Signal(os.Stdout, symbol, sig)
			return nil
		}),
	}
}

func backtestCommand() *cli.Command {
	return &cli.Command{
		Name:  "backtest",
		Usage: "backtest strategies and record the trades in the ledger",
		Flags: []cli.Flag{
			symbolFlag, csvFlag, htmlFlag,
			&cli.StringSliceFlag{Name: "strategy", Usage: "strategy names (all registered when empty)"},
			&cli.BoolFlag{Name: "trades", Usage: "print every trade"},
		},
		Action: withApp(true, func(ctx context.Context, c *cli.Context, a *app) error {
			req, err := dataRequest(ctx, c)
			if err != nil {
				return err
			}
			reps, err := a.svc.BacktestAll(ctx, req, c.StringSlice("strategy"))
			if err != nil {
				return err
			}
			results := make([]backtest.Result, 0, len(reps))
			stats := make([]validation.Stats, 0, len(reps))
			for _, r := range reps {
				results = append(results, r.Result)
				stats = append(stats, r.Stats)
				for _, f := range r.Result.Failures {
					logger.Warnf("[main] %s", f.Error())
				}
			}
			if c.Bool("trades") {
				report.Trades(os.Stdout, backtest.MergeTrades(results))
			}
			report.Stats(os.Stdout, stats)
			return writeHTML(c.String("html"), results, nil)
		}),
	}
}

func walkForwardCommand() *cli.Command {
	return &cli.Command{
		Name:  "walkforward",
		Usage: "run rolling-window walk-forward analysis",
		Flags: []cli.Flag{
			symbolFlag, csvFlag, htmlFlag,
			&cli.StringFlag{Name: "strategy", Value: "confluence"},
			&cli.IntFlag{Name: "window", Usage: "bars per window"},
			&cli.IntFlag{Name: "step", Usage: "bars between window starts"},
		},
		Action: withApp(true, func(ctx context.Context, c *cli.Context, a *app) error {
			req, err := dataRequest(ctx, c)
			if err != nil {
				return err
			}
			rep, err := a.svc.WalkForward(ctx, service.WalkForwardRequest{
				DataRequest: req,
				Strategy:    c.String("strategy"),
				WindowSize:  c.Int("window"),
				StepSize:    c.Int("step"),
			})
			if err != nil {
				return err
			}
			report.WalkForward(os.Stdout, rep.Result)
			return writeHTML(c.String("html"), nil, []backtest.WalkForwardResult{rep.Result})
		}),
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "validate a strategy against the ledger's trade pool",
		ArgsUsage: "<strategy>",
		Flags:     []cli.Flag{presetFlag},
		Action: withApp(true, func(ctx context.Context, c *cli.Context, a *app) error {
			name := c.Args().First()
			if name == "" {
				return cli.Exit("strategy name required", 2)
			}
			rep, err := a.svc.Validation(ctx, name, c.String("preset"))
			if err != nil {
				return err
			}
			report.Report(os.Stdout, rep)
			return nil
		}),
	}
}

func rankCommand() *cli.Command {
	return &cli.Command{
		Name:  "rank",
		Usage: "rank ledger strategies by expectancy",
		Flags: []cli.Flag{presetFlag},
		Action: withApp(true, func(ctx context.Context, c *cli.Context, a *app) error {
			ranked, err := a.svc.Rank(ctx, c.String("preset"))
			if err != nil {
				return err
			}
			report.Ranking(os.Stdout, ranked)
			ready, err := a.svc.Ready(ctx, c.String("preset"))
			if err != nil {
				return err
			}
			fmt.Printf("ready for live trading: %d\n", len(ready))
			for _, name := range ready {
				fmt.Println("  " + name)
			}
			return nil
		}),
	}
}

func strategiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "strategies",
		Usage: "list registered strategies",
		Action: withApp(false, func(ctx context.Context, c *cli.Context, a *app) error {
			for _, name := range a.registry.Names() {
				fmt.Println(name)
			}
			return nil
		}),
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start the HTTP API and console",
		Flags: []cli.Flag{&cli.StringFlag{Name: "addr", Usage: "listen address (defaults to server.addr)"}},
		Action: withApp(true, func(ctx context.Context, c *cli.Context, a *app) error {
			addr := c.String("addr")
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv, err := api.NewServer(api.Config{Addr: addr, APIKey: a.cfg.Server.APIKey, Engine: a.svc, Criteria: a.criteria})
			if err != nil {
				return err
			}
			if a.cfg.Server.APIKey == "" {
				logger.Warnf("[main] api_key not set, write endpoints are open")
			}
			return srv.Start(ctx)
		}),
	}
}
