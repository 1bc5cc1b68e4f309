package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"stuntman/internal/logger"
	"stuntman/internal/market"
)

// CandleStore 抽象：按 symbol+interval 读写 K 线序列。
type CandleStore interface {
	Set(ctx context.Context, symbol, interval string, candles []market.Candle) error
	Get(ctx context.Context, symbol, interval string) ([]market.Candle, time.Time, error)
}

type entry struct {
	candles []market.Candle
	stored  time.Time
}

// MemoryCandleStore 内存实现，读写都做拷贝。
type MemoryCandleStore struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

func NewMemoryCandleStore() *MemoryCandleStore {
	return &MemoryCandleStore{data: make(map[string]entry), now: time.Now}
}

func key(symbol, interval string) string {
	return strings.ToUpper(symbol) + "@" + strings.ToLower(interval)
}

// Set 全量替换指定 symbol+interval 的序列。
func (s *MemoryCandleStore) Set(ctx context.Context, symbol, interval string, candles []market.Candle) error {
	if symbol == "" || interval == "" {
		return errors.New("symbol/interval 不能为空")
	}
	dst := make([]market.Candle, len(candles))
	copy(dst, candles)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key(symbol, interval)] = entry{candles: dst, stored: s.now()}
	return nil
}

// Get 返回拷贝与写入时间；不存在时返回空序列。
func (s *MemoryCandleStore) Get(ctx context.Context, symbol, interval string) ([]market.Candle, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key(symbol, interval)]
	if !ok {
		return nil, time.Time{}, nil
	}
	out := make([]market.Candle, len(e.candles))
	copy(out, e.candles)
	return out, e.stored, nil
}

// CachedSource 在 TTL 内复用已拉取的历史。
type CachedSource struct {
	Source market.Source
	Store  CandleStore
	TTL    time.Duration
	Now    func() time.Time
}

func (c *CachedSource) Name() string { return "cached(" + c.Source.Name() + ")" }

// FetchHistory 缓存命中且根数足够时直接返回最近 limit 根。
func (c *CachedSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if cached, at, err := c.Store.Get(ctx, symbol, interval); err == nil && len(cached) > 0 && now().Sub(at) < c.TTL {
		if limit <= 0 || len(cached) >= limit {
			if limit > 0 {
				cached = cached[len(cached)-limit:]
			}
			logger.Debugf("[store] cache hit %s@%s (%d candles)", symbol, interval, len(cached))
			return cached, nil
		}
	}
	candles, err := c.Source.FetchHistory(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	if err := c.Store.Set(ctx, symbol, interval, candles); err != nil {
		logger.Warnf("[store] cache %s@%s failed: %v", symbol, interval, err)
	}
	return candles, nil
}
