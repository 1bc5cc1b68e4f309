package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS backtest_runs (
        id           TEXT PRIMARY KEY,
        strategy     TEXT NOT NULL,
        symbol       TEXT NOT NULL DEFAULT '',
        interval     TEXT NOT NULL DEFAULT '',
        kind         TEXT NOT NULL,
        status       TEXT NOT NULL,
        created_at   INTEGER NOT NULL,
        config_json  TEXT,
        summary_json TEXT
    )`,
	`CREATE TABLE IF NOT EXISTS trades (
        run_id      TEXT NOT NULL REFERENCES backtest_runs(id) ON DELETE CASCADE,
        seq         INTEGER NOT NULL,
        strategy    TEXT NOT NULL,
        direction   TEXT NOT NULL,
        entry_time  INTEGER NOT NULL,
        entry_price REAL NOT NULL,
        exit_time   INTEGER NOT NULL,
        exit_price  REAL NOT NULL,
        exit_type   TEXT NOT NULL,
        pnl         REAL NOT NULL,
        hold_bars   INTEGER NOT NULL,
        quantity    INTEGER NOT NULL DEFAULT 1,
        commission  REAL NOT NULL DEFAULT 0,
        slippage    REAL NOT NULL DEFAULT 0,
        PRIMARY KEY (run_id, seq)
    )`,
	`CREATE INDEX IF NOT EXISTS idx_trades_strategy_exit ON trades(strategy, exit_time)`,
}

// 后加的列，重复执行时忽略"已存在"错误。
var addedColumns = []string{
	"ALTER TABLE backtest_runs ADD COLUMN trades INTEGER NOT NULL DEFAULT 0",
	"ALTER TABLE backtest_runs ADD COLUMN net_pnl REAL NOT NULL DEFAULT 0",
	"ALTER TABLE trades ADD COLUMN latency_ms REAL",
}

// migrate 建表并补齐列（幂等）。
func (s *LedgerStore) migrate(ctx context.Context) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	for _, q := range schema {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	for _, q := range addedColumns {
		if _, err := db.ExecContext(ctx, q); err != nil {
			// 忽略已存在错误
			continue
		}
	}
	return nil
}
