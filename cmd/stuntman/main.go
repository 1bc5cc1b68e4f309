// stuntman 期货信号评分、回测与策略验证工具。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"stuntman/internal/config"
	"stuntman/internal/logger"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "stuntman",
		Usage: "futures signal scoring, backtesting and strategy validation",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML config file", EnvVars: []string{"STUNTMAN_CONFIG"}},
			&cli.StringFlag{Name: "env", Value: ".env", Usage: "dotenv file"},
			&cli.StringFlag{Name: "log-level", Usage: "override log level"},
		},
		Commands: []*cli.Command{
			fetchCommand(),
			signalCommand(),
			backtestCommand(),
			walkForwardCommand(),
			validateCommand(),
			rankCommand(),
			strategiesCommand(),
			serveCommand(),
		},
	}
}

// loadConfig 读取配置并初始化日志。
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"), c.String("env"))
	if err != nil {
		return cfg, err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if err := logger.Init(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, JSON: cfg.Log.JSON}); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// signalContext 在 SIGINT/SIGTERM 时取消。
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withApp 加载配置、组装依赖并在结束时释放。
func withApp(needLedger bool, fn func(ctx context.Context, c *cli.Context, a *app) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext(c.Context)
		defer cancel()
		a, err := newApp(ctx, cfg, needLedger)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, c, a)
	}
}
