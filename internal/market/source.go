package market

import "context"

// Source 统一对接外部历史行情供应商。
type Source interface {
	// Name 用于日志与错误信息。
	Name() string
	// FetchHistory 拉取最近 limit 根 K 线并按时间升序返回。
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// SourceFunc 便于测试时用闭包实现 Source。
type SourceFunc struct {
	Label string
	Fn    func(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

func (f SourceFunc) Name() string { return f.Label }

func (f SourceFunc) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	return f.Fn(ctx, symbol, interval, limit)
}
