package indicator

import (
	"time"

	"stuntman/internal/market"
)

type Settings struct {
	EMA       EMASettings       `json:"ema" toml:"ema"`
	RSI       int               `json:"rsi_period,omitempty" toml:"rsi_period"`
	MACD      MACDSettings      `json:"macd" toml:"macd"`
	Bollinger BollingerSettings `json:"bollinger" toml:"bollinger"`
	ATR       int               `json:"atr_period,omitempty" toml:"atr_period"`
	ADX       int               `json:"adx_period,omitempty" toml:"adx_period"`
	Volume    int               `json:"volume_lookback,omitempty" toml:"volume_lookback"`
	// SessionVWAP resets VWAP on each calendar day in Location.
	SessionVWAP bool           `json:"session_vwap,omitempty" toml:"session_vwap"`
	Location    *time.Location `json:"-" toml:"-"`
}

type EMASettings struct {
	Fast  int `json:"fast,omitempty" toml:"fast"`
	Slow  int `json:"slow,omitempty" toml:"slow"`
	Trend int `json:"trend,omitempty" toml:"trend"`
	Long  int `json:"long,omitempty" toml:"long"`
}

type MACDSettings struct {
	Fast   int `json:"fast,omitempty" toml:"fast"`
	Slow   int `json:"slow,omitempty" toml:"slow"`
	Signal int `json:"signal,omitempty" toml:"signal"`
}

type BollingerSettings struct {
	Period int     `json:"period,omitempty" toml:"period"`
	K      float64 `json:"k,omitempty" toml:"k"`
}

func DefaultSettings() Settings {
	return NormalizeSettings(Settings{})
}

// NormalizeSettings fills in default values for missing fields.
func NormalizeSettings(s Settings) Settings {
	if s.EMA.Fast <= 0 {
		s.EMA.Fast = 9
	}
	if s.EMA.Slow <= 0 {
		s.EMA.Slow = 21
	}
	if s.EMA.Trend <= 0 {
		s.EMA.Trend = 20
	}
	if s.EMA.Long <= 0 {
		s.EMA.Long = 50
	}
	if s.RSI <= 0 {
		s.RSI = 14
	}
	if s.MACD.Fast <= 0 {
		s.MACD.Fast = 12
	}
	if s.MACD.Slow <= 0 {
		s.MACD.Slow = 26
	}
	if s.MACD.Signal <= 0 {
		s.MACD.Signal = 9
	}
	if s.Bollinger.Period <= 0 {
		s.Bollinger.Period = 20
	}
	if s.Bollinger.K <= 0 {
		s.Bollinger.K = 2
	}
	if s.ATR <= 0 {
		s.ATR = 14
	}
	if s.ADX <= 0 {
		s.ADX = 14
	}
	if s.Volume <= 0 {
		s.Volume = 20
	}
	if s.Location == nil {
		s.Location = time.UTC
	}
	return s
}

// Series holds every indicator for one candle slice, index-aligned with it.
type Series struct {
	Settings  Settings
	Candles   []market.Candle
	Closes    []float64
	EMAFast   []float64
	EMASlow   []float64
	EMATrend  []float64
	EMALong   []float64
	RSI       []float64
	MACD      MACDSeries
	Bollinger BollingerSeries
	ATR       []float64
	ADX       ADXSeries
	VWAP      []float64
	VolumeAvg []float64
}

// Compute evaluates all indicators once; snapshots are read with At.
func Compute(candles []market.Candle, cfg Settings) Series {
	cfg = NormalizeSettings(cfg)
	closes := market.Closes(candles)
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	s := Series{
		Settings:  cfg,
		Candles:   candles,
		Closes:    closes,
		EMAFast:   EMA(closes, cfg.EMA.Fast),
		EMASlow:   EMA(closes, cfg.EMA.Slow),
		EMATrend:  EMA(closes, cfg.EMA.Trend),
		EMALong:   EMA(closes, cfg.EMA.Long),
		RSI:       RSI(closes, cfg.RSI),
		MACD:      MACD(closes, cfg.MACD.Fast, cfg.MACD.Slow, cfg.MACD.Signal),
		Bollinger: Bollinger(closes, cfg.Bollinger.Period, cfg.Bollinger.K),
		ATR:       ATR(candles, cfg.ATR),
		ADX:       ADX(candles, cfg.ADX),
		VolumeAvg: SMA(volumes, cfg.Volume),
	}
	if cfg.SessionVWAP {
		s.VWAP = SessionVWAP(candles, cfg.Location)
	} else {
		s.VWAP = VWAP(candles)
	}
	return s
}

func (s Series) Len() int { return len(s.Candles) }

type MACDValue struct {
	Value     float64 `json:"value"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

type BollingerValue struct {
	Upper    float64 `json:"upper"`
	Middle   float64 `json:"middle"`
	Lower    float64 `json:"lower"`
	PercentB float64 `json:"percent_b"`
}

// Snapshot is the indicator bundle at one index. Bands read zero before
// their window fills so the value always encodes to JSON.
type Snapshot struct {
	Index     int            `json:"index"`
	Time      int64          `json:"time"`
	Close     float64        `json:"close"`
	RSI       float64        `json:"rsi"`
	MACD      MACDValue      `json:"macd"`
	Bollinger BollingerValue `json:"bollinger"`
	ATR       float64        `json:"atr"`
	ADX       float64        `json:"adx"`
	PlusDI    float64        `json:"plus_di"`
	MinusDI   float64        `json:"minus_di"`
	EMA9      float64        `json:"ema9"`
	EMA20     float64        `json:"ema20"`
	EMA21     float64        `json:"ema21"`
	EMA50     float64        `json:"ema50"`
	VWAP      float64        `json:"vwap"`
	Volume    VolumeProfile  `json:"volume_profile"`
}

// At returns the snapshot at index i; out-of-range yields the zero value.
func (s Series) At(i int) Snapshot {
	if i < 0 || i >= s.Len() {
		return Snapshot{}
	}
	c := s.Candles[i]
	return Snapshot{
		Index: i,
		Time:  c.OpenTime,
		Close: c.Close,
		RSI:   s.RSI[i],
		MACD: MACDValue{
			Value:     s.MACD.MACD[i],
			Signal:    s.MACD.Signal[i],
			Histogram: s.MACD.Histogram[i],
		},
		Bollinger: BollingerValue{
			Upper:    finite(s.Bollinger.Upper[i]),
			Middle:   finite(s.Bollinger.Middle[i]),
			Lower:    finite(s.Bollinger.Lower[i]),
			PercentB: s.Bollinger.PercentB[i],
		},
		ATR:     s.ATR[i],
		ADX:     s.ADX.ADX[i],
		PlusDI:  s.ADX.PlusDI[i],
		MinusDI: s.ADX.MinusDI[i],
		EMA9:    s.EMAFast[i],
		EMA20:   s.EMATrend[i],
		EMA21:   s.EMASlow[i],
		EMA50:   s.EMALong[i],
		VWAP:    s.VWAP[i],
		Volume:  s.volumeProfile(i),
	}
}

// Last is At(Len()-1).
func (s Series) Last() Snapshot { return s.At(s.Len() - 1) }
