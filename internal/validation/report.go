package validation

import (
	"fmt"
	"sort"
	"time"

	"stuntman/internal/backtest"
)

type Report struct {
	Strategy         string             `json:"strategy"`
	Status           Status             `json:"status"`
	Criteria         Criteria           `json:"criteria"`
	Stats            Stats              `json:"stats"`
	DailyPerformance []DailyPerformance `json:"daily_performance"`
	Recommendation   string             `json:"recommendation"`
	GeneratedAt      time.Time          `json:"generated_at"`
}

// GenerateReport 从交易池中筛选 strategy 的交易生成报告；at 由调用方提供。
func GenerateReport(strategy string, pool []backtest.Trade, c Criteria, at time.Time) Report {
	trades := Filter(pool, strategy)
	st := Validate(strategy, trades, c)
	return Report{
		Strategy:         strategy,
		Status:           st.Status,
		Criteria:         c,
		Stats:            st,
		DailyPerformance: Daily(trades),
		Recommendation:   Recommend(st, c),
		GeneratedAt:      at,
	}
}

func Recommend(st Stats, c Criteria) string {
	switch st.Status {
	case StatusValidated:
		return "Ready for live trading: start with minimum size and keep monitoring daily results."
	case StatusPending:
		return fmt.Sprintf("Continue paper trading: %d more trades needed before validation.", max(c.MinTrades-st.Trades, 0))
	default:
		return "Not ready: tune parameters and re-validate (" + joinReasons(st.FailureReasons) + ")."
	}
}

// ReadyStrategies 返回 names 中通过验证的策略，保持入参顺序。
func ReadyStrategies(pool []backtest.Trade, names []string, c Criteria) []string {
	out := []string{}
	for _, name := range names {
		if Validate(name, Filter(pool, name), c).Status == StatusValidated {
			out = append(out, name)
		}
	}
	return out
}

type Ranked struct {
	Rank  int   `json:"rank"`
	Stats Stats `json:"stats"`
}

// RankStrategies 按期望值降序排列，相同时按名称升序。
func RankStrategies(pool []backtest.Trade, names []string, c Criteria) []Ranked {
	stats := make([]Stats, 0, len(names))
	for _, name := range names {
		stats = append(stats, Validate(name, Filter(pool, name), c))
	}
	sort.SliceStable(stats, func(i, j int) bool {
		if stats[i].Expectancy != stats[j].Expectancy {
			return stats[i].Expectancy > stats[j].Expectancy
		}
		return stats[i].Strategy < stats[j].Strategy
	})
	out := make([]Ranked, len(stats))
	for i, st := range stats {
		out[i] = Ranked{Rank: i + 1, Stats: st}
	}
	return out
}
