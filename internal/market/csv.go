package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// PrecisionAuto 根据 K 线价格区间自动决定精度。
	PrecisionAuto = math.MinInt32
	// PrecisionRaw 保留原始精度。
	PrecisionRaw = -1
)

var csvHeader = []string{"time", "open", "high", "low", "close", "volume"}

// WriteCSV 输出带表头的 CSV，时间列为 RFC3339（UTC）。
func WriteCSV(w io.Writer, candles []Candle, precision int) error {
	if precision == PrecisionAuto {
		precision = autoPrecision(candles)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range candles {
		row := []string{
			c.Time().Format(time.RFC3339),
			formatPrice(c.Open, precision),
			formatPrice(c.High, precision),
			formatPrice(c.Low, precision),
			formatPrice(c.Close, precision),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV 解析 WriteCSV 的格式；时间列也接受 unix 毫秒或 2006-01-02。
func ReadCSV(r io.Reader) ([]Candle, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(rows))
	for i, row := range rows {
		if i == 0 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		if len(row) < 6 {
			return nil, fmt.Errorf("csv line %d: want 6 columns, got %d", i+1, len(row))
		}
		ts, err := parseCSVTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", i+1, err)
		}
		vals := make([]float64, 5)
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d col %s: %w", i+1, csvHeader[j+1], err)
			}
			vals[j] = v
		}
		out = append(out, Candle{
			OpenTime: ts,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return out, nil
}

func parseCSVTime(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized time %q", raw)
}

func autoPrecision(candles []Candle) int {
	maxVal := 0.0
	for _, c := range candles {
		for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
			if abs := math.Abs(v); abs > maxVal {
				maxVal = abs
			}
		}
	}
	switch {
	case maxVal >= 1000:
		return 2
	case maxVal >= 100:
		return 3
	default:
		return PrecisionRaw
	}
}

func formatPrice(value float64, precision int) string {
	if precision == PrecisionRaw {
		return strconv.FormatFloat(value, 'f', -1, 64)
	}
	s := strconv.FormatFloat(value, 'f', precision, 64)
	if precision > 0 {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

// CSVSource 从本地 CSV 文件读取历史，symbol/interval 仅用于日志。
type CSVSource struct {
	Path string
}

func (s CSVSource) Name() string { return "csv" }

func (s CSVSource) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	candles, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}
