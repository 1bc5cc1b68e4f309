package market

import "time"

// Gap 表示按固定步长缺失的连续 K 线区间（毫秒时间戳）。
type Gap struct {
	From  int64 `json:"from"`
	To    int64 `json:"to"`
	Count int64 `json:"count"`
}

// IntegrityReport 描述一段 K 线按步长的覆盖情况。
type IntegrityReport struct {
	Start    int64 `json:"start"`
	End      int64 `json:"end"`
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool { return len(r.Gaps) == 0 }

// CheckIntegrity 以 step 为间隔扫描 candles 的开盘时间，报告缺口。
// 指标按位置计算，不依赖时间间隔，缺口只用于提示（例如收盘时段、周末）。
func CheckIntegrity(candles []Candle, step time.Duration) IntegrityReport {
	if len(candles) == 0 || step <= 0 {
		return IntegrityReport{}
	}
	ms := step.Milliseconds()
	report := IntegrityReport{
		Start:   candles[0].OpenTime,
		End:     candles[len(candles)-1].OpenTime,
		Present: int64(len(candles)),
	}
	report.Expected = (report.End-report.Start)/ms + 1
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].OpenTime, candles[i].OpenTime
		missing := (cur-prev)/ms - 1
		if missing <= 0 {
			continue
		}
		report.Gaps = append(report.Gaps, Gap{From: prev + ms, To: cur - ms, Count: missing})
	}
	return report
}

// Missing 缺失 K 线总数。
func (r IntegrityReport) Missing() int64 {
	var n int64
	for _, g := range r.Gaps {
		n += g.Count
	}
	return n
}
