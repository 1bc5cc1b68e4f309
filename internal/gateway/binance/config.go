package binance

import "time"

// Config 描述 Binance Source 运行所需的参数。
type Config struct {
	RESTBaseURL string        `toml:"rest_base_url"`
	HTTPTimeout time.Duration `toml:"-"`
	MaxRetries  int           `toml:"max_retries"`
	// MinBackoff/MaxBackoff 限频（-1003 / HTTP 429）时的指数退避区间。
	MinBackoff time.Duration `toml:"-"`
	MaxBackoff time.Duration `toml:"-"`
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.MinBackoff <= 0 {
		out.MinBackoff = 500 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 8 * time.Second
	}
	return out
}
