package strategy

import (
	"fmt"
	"strings"

	"stuntman/internal/decision"
	"stuntman/internal/market"
)

// Rule 给定历史前缀（最后一根为当前 bar）返回开仓信号；nil 或 HOLD 表示不交易。
// 实现必须是纯函数：不得修改 history，不得持有跨调用状态。
type Rule interface {
	Name() string
	Evaluate(history []market.Candle) (*decision.Signal, error)
}

// Func 将闭包包装为 Rule。
type Func struct {
	Label string
	Fn    func(history []market.Candle) (*decision.Signal, error)
}

func (f Func) Name() string { return f.Label }

func (f Func) Evaluate(history []market.Candle) (*decision.Signal, error) {
	return f.Fn(history)
}

// Kind 内置规则类型，注册时解析一次。
type Kind int

const (
	KindConfluence Kind = iota + 1
	KindEMACross
	KindRSIReversion
	KindBollingerFade
)

var kindNames = map[Kind]string{
	KindConfluence:    "confluence",
	KindEMACross:      "ema_cross",
	KindRSIReversion:  "rsi_reversion",
	KindBollingerFade: "bollinger_fade",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind 解析配置中的规则类型名。
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRule, s)
}

// Kinds 返回全部内置类型（按枚举顺序）。
func Kinds() []Kind {
	return []Kind{KindConfluence, KindEMACross, KindRSIReversion, KindBollingerFade}
}
