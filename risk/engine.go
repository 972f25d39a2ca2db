package risk

import (
	"errors"
	"fmt"

	"utrade-bots-go/gateway"
)

var (
	ErrTooManyOrders    = errors.New("too many open orders")
	ErrQuoteBalanceLow  = errors.New("quote balance below minimum")
	ErrExposureExceeded = errors.New("base exposure exceed")
)

// Limits 风控阈值；0 表示对应检查关闭。
type Limits struct {
	MaxOpenOrders       int     // 最大挂单数
	MinQuoteBalance     float64 // 报价资产最低余额（free）
	MaxBaseExposureUsdt float64 // 基础资产持仓的最大名义（free+locked，按 mid 计）
}

// Input 单次评估的输入；每 tick 重新采集，引擎本身无状态。
type Input struct {
	Balances   []gateway.Balance
	Mid        float64
	OpenOrders int
}

// Decision 风控裁决。OK=false 时调用方必须先撤掉该交易对全部挂单，
// 再禁用两个策略开关——顺序颠倒会留下孤儿敞口。
type Decision struct {
	OK     bool
	Reason string
}

// Engine 按构造时的阈值做逐项检查；首个命中的检查即为裁决原因。
type Engine struct {
	limits     Limits
	baseAsset  string
	quoteAsset string
}

// NewEngine 创建风控引擎。
func NewEngine(limits Limits, baseAsset, quoteAsset string) *Engine {
	return &Engine{limits: limits, baseAsset: baseAsset, quoteAsset: quoteAsset}
}

// Evaluate 逐项评估；全部通过返回 {OK:true}。
func (e *Engine) Evaluate(in Input) Decision {
	if err := e.check(in); err != nil {
		return Decision{OK: false, Reason: err.Error()}
	}
	return Decision{OK: true}
}

func (e *Engine) check(in Input) error {
	if e.limits.MaxOpenOrders > 0 && in.OpenOrders > e.limits.MaxOpenOrders {
		return fmt.Errorf("%w: %d > %d", ErrTooManyOrders, in.OpenOrders, e.limits.MaxOpenOrders)
	}
	var baseFree, baseLocked, quoteFree float64
	for _, b := range in.Balances {
		switch b.Asset {
		case e.baseAsset:
			baseFree, baseLocked = b.Free, b.Locked
		case e.quoteAsset:
			quoteFree = b.Free
		}
	}
	if e.limits.MinQuoteBalance > 0 && quoteFree < e.limits.MinQuoteBalance {
		return fmt.Errorf("%w: %.2f < %.2f", ErrQuoteBalanceLow, quoteFree, e.limits.MinQuoteBalance)
	}
	if e.limits.MaxBaseExposureUsdt > 0 && in.Mid > 0 {
		notional := (baseFree + baseLocked) * in.Mid
		if notional > e.limits.MaxBaseExposureUsdt {
			return fmt.Errorf("%w: %.2f > %.2f", ErrExposureExceeded, notional, e.limits.MaxBaseExposureUsdt)
		}
	}
	return nil
}
