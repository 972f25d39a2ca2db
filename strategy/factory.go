package strategy

import "fmt"

// NewQuoter 按名称构造报价策略。目前只有对称价差一种，
// 名称留作配置扩展位。
func NewQuoter(name, symbol string, cfg SpreadConfig) (Quoter, error) {
	switch name {
	case "", "spread":
		return NewSpreadQuoter(symbol, cfg), nil
	default:
		return nil, fmt.Errorf("unknown quoter %q", name)
	}
}
