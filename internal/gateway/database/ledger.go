package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"stuntman/internal/backtest"
	"stuntman/internal/logger"
)

var ErrRunNotFound = errors.New("run not found")

// RunRecord 一次回测/walk-forward 运行的元数据。
type RunRecord struct {
	ID        string          `json:"id"`
	Strategy  string          `json:"strategy"`
	Symbol    string          `json:"symbol"`
	Interval  string          `json:"interval"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	Config    json.RawMessage `json:"config,omitempty"`
	Summary   json.RawMessage `json:"summary,omitempty"`
	Trades    int             `json:"trades"`
	NetPnL    float64         `json:"net_pnl"`
}

// LedgerStore 基于 sqlite 保存运行记录与交易账本。
type LedgerStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenLedgerStore 打开（或创建）数据库并执行迁移；path 为 ":memory:" 时使用内存库。
func OpenLedgerStore(ctx context.Context, path string) (*LedgerStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// 内存库每个连接独立，限制为单连接。
	db.SetMaxOpenConns(1)
	s := &LedgerStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Infof("[ledger] sqlite ready at %s", path)
	return s, nil
}

func (s *LedgerStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *LedgerStore) handle() (*sql.DB, error) {
	if s == nil {
		return nil, fmt.Errorf("ledger store 未初始化")
	}
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("ledger store 已关闭")
	}
	return db, nil
}

// SaveRun 写入运行记录并替换其交易明细（同一事务）。
func (s *LedgerStore) SaveRun(ctx context.Context, run RunRecord, trades []backtest.Trade) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id 不能为空")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO backtest_runs (id, strategy, symbol, interval, kind, status, created_at, config_json, summary_json, trades, net_pnl)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status=excluded.status, config_json=excluded.config_json, summary_json=excluded.summary_json,
            trades=excluded.trades, net_pnl=excluded.net_pnl`,
		run.ID, run.Strategy, run.Symbol, run.Interval, run.Kind, run.Status, run.CreatedAt.UnixMilli(),
		nullIfEmpty(run.Config), nullIfEmpty(run.Summary), len(trades), run.NetPnL)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE run_id=?`, run.ID); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO trades (run_id, seq, strategy, direction, entry_time, entry_price, exit_time, exit_price,
                            exit_type, pnl, hold_bars, quantity, commission, slippage, latency_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, t := range trades {
		if _, err := stmt.ExecContext(ctx, run.ID, i, t.Strategy, string(t.Direction), t.EntryTime.UnixMilli(), t.EntryPrice,
			t.ExitTime.UnixMilli(), t.ExitPrice, string(t.ExitType), t.PnL, t.HoldBars, t.Quantity,
			t.Commission, t.Slippage, t.LatencyMs); err != nil {
			return fmt.Errorf("save trade %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// UpdateRunStatus 只更新状态。
func (s *LedgerStore) UpdateRunStatus(ctx context.Context, id, status string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `UPDATE backtest_runs SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, strategy, symbol, interval, kind, status, created_at, config_json, summary_json, trades, net_pnl`

func (s *LedgerStore) GetRun(ctx context.Context, id string) (RunRecord, []backtest.Trade, error) {
	db, err := s.handle()
	if err != nil {
		return RunRecord{}, nil, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM backtest_runs WHERE id=?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return RunRecord{}, nil, err
	}
	trades, err := s.queryTrades(ctx, db, `WHERE run_id=? ORDER BY seq ASC`, id)
	return run, trades, err
}

// ListRuns 按创建时间倒序返回最近 limit 条记录。
func (s *LedgerStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM backtest_runs ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// latestRuns 每个 (strategy, symbol, interval) 只取最近一次已完成的回测，重跑不会重复计入交易池。
const latestRuns = `SELECT id FROM (
        SELECT id, ROW_NUMBER() OVER (
            PARTITION BY strategy, symbol, interval ORDER BY created_at DESC, rowid DESC) AS rn
        FROM backtest_runs WHERE kind='backtest' AND status='done') WHERE rn=1`

// LoadTrades 返回交易池；strategies 为空时返回全部。
// 只包含每个 (strategy, symbol, interval) 最近一次已完成的回测运行。
func (s *LedgerStore) LoadTrades(ctx context.Context, strategies ...string) ([]backtest.Trade, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	where := `WHERE run_id IN (` + latestRuns + `)`
	args := make([]any, 0, len(strategies))
	if len(strategies) > 0 {
		marks := make([]string, len(strategies))
		for i, name := range strategies {
			marks[i] = "?"
			args = append(args, name)
		}
		where += ` AND strategy IN (` + strings.Join(marks, ",") + `)`
	}
	return s.queryTrades(ctx, db, where+` ORDER BY exit_time ASC, run_id ASC, seq ASC`, args...)
}

// Strategies 返回账本中出现过的策略名（字母序）。
func (s *LedgerStore) Strategies(ctx context.Context) ([]string, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT strategy FROM backtest_runs WHERE kind='backtest' AND status='done' ORDER BY strategy ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *LedgerStore) queryTrades(ctx context.Context, db *sql.DB, tail string, args ...any) ([]backtest.Trade, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT strategy, direction, entry_time, entry_price, exit_time, exit_price, exit_type,
               pnl, hold_bars, quantity, commission, slippage, latency_ms
        FROM trades `+tail, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []backtest.Trade
	for rows.Next() {
		var (
			t               backtest.Trade
			dir, exitType   string
			entryMs, exitMs int64
			latency         sql.NullFloat64
		)
		if err := rows.Scan(&t.Strategy, &dir, &entryMs, &t.EntryPrice, &exitMs, &t.ExitPrice, &exitType,
			&t.PnL, &t.HoldBars, &t.Quantity, &t.Commission, &t.Slippage, &latency); err != nil {
			return nil, err
		}
		t.Direction = backtest.Direction(dir)
		t.ExitType = backtest.ExitType(exitType)
		t.EntryTime = time.UnixMilli(entryMs).UTC()
		t.ExitTime = time.UnixMilli(exitMs).UTC()
		if latency.Valid {
			t.LatencyMs = latency.Float64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var (
		run             RunRecord
		created         int64
		config, summary sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Strategy, &run.Symbol, &run.Interval, &run.Kind, &run.Status, &created,
		&config, &summary, &run.Trades, &run.NetPnL); err != nil {
		return RunRecord{}, err
	}
	run.CreatedAt = time.UnixMilli(created).UTC()
	if config.Valid {
		run.Config = json.RawMessage(config.String)
	}
	if summary.Valid {
		run.Summary = json.RawMessage(summary.String)
	}
	return run, nil
}

func nullIfEmpty(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
