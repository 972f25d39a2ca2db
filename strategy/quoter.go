// Package strategy 生成做市报价。报价产出与撮合对账解耦：
// 这里只负责算出目标报价集，下游 diff 决定实际撤/挂。
package strategy

import (
	"fmt"
	"math"
	"time"

	"utrade-bots-go/market"
	"utrade-bots-go/order"
)

// Input 每个 tick 的报价输入。
type Input struct {
	Snapshot market.Snapshot
	InvRatio float64 // 平滑后的库存比例，0..1，0.5 为中性
	SizeMul  float64 // 预测闸门给出的规模乘数，0 表示未启用（按 1 处理）
}

// Quoter 根据行情与库存生成目标报价集。
type Quoter interface {
	GenerateQuotes(in Input) ([]order.Quote, error)
}

// SpreadConfig 对称价差报价配置。
type SpreadConfig struct {
	SpreadPct         float64 // 全价差，如 0.004 = 0.4%
	QuoteNotionalUsdt float64 // 单边挂单名义金额
	SkewFactor        float64 // 库存倾斜强度，0..1
	DynamicSpread     bool    // 按盘口宽度放大价差
	MinSpreadPct      float64 // 动态价差下限

	// Constraints 交易所精度限制，零值表示不做本地对齐
	Constraints order.SymbolConstraints
}

func (c SpreadConfig) withDefaults() SpreadConfig {
	if c.SpreadPct <= 0 {
		c.SpreadPct = 0.004
	}
	if c.SkewFactor < 0 || c.SkewFactor > 1 {
		c.SkewFactor = 0.3
	}
	if c.MinSpreadPct <= 0 {
		c.MinSpreadPct = c.SpreadPct * 0.5
	}
	return c
}

// SpreadQuoter 围绕 mid 对称挂双边限价单，按库存比例整体偏移。
// 库存偏多时整体下移（更积极卖出），偏少时上移。
type SpreadQuoter struct {
	symbol string
	cfg    SpreadConfig
	now    func() time.Time
}

func NewSpreadQuoter(symbol string, cfg SpreadConfig) *SpreadQuoter {
	return &SpreadQuoter{
		symbol: symbol,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// GenerateQuotes 生成一买一卖两条报价。
func (q *SpreadQuoter) GenerateQuotes(in Input) ([]order.Quote, error) {
	snap := in.Snapshot
	if !snap.Valid() {
		return nil, fmt.Errorf("invalid snapshot: mid=%v bid=%v ask=%v", snap.Mid, snap.Bid, snap.Ask)
	}
	if q.cfg.QuoteNotionalUsdt <= 0 {
		return nil, nil
	}

	spread := q.spread(snap)
	halfSpread := spread / 2

	// 库存倾斜：ratio 0.5 为中性，偏离按 skewFactor 折算成价格偏移
	skew := (clamp01(in.InvRatio) - 0.5) * 2 * q.cfg.SkewFactor * halfSpread

	bidPrice := snap.Mid - halfSpread - skew
	askPrice := snap.Mid + halfSpread - skew
	if bidPrice <= 0 {
		return nil, fmt.Errorf("degenerate bid price %v from mid %v", bidPrice, snap.Mid)
	}

	mul := in.SizeMul
	if mul <= 0 {
		mul = 1
	}
	notional := q.cfg.QuoteNotionalUsdt * mul

	now := q.now()
	quotes := make([]order.Quote, 0, 2)
	if quote, ok := q.buildQuote(order.SideBuy, order.TagMakerBuy, bidPrice, notional, now); ok {
		quotes = append(quotes, quote)
	}
	if quote, ok := q.buildQuote(order.SideSell, order.TagMakerSell, askPrice, notional, now); ok {
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// buildQuote 按精度限制取整，取整后不满足最小数量/名义的报价整条丢弃。
func (q *SpreadQuoter) buildQuote(side order.Side, tag string, price, notional float64, now time.Time) (order.Quote, bool) {
	c := q.cfg.Constraints
	price = c.RoundPrice(price)
	qty := c.RoundQty(notional / price)
	if !c.Fits(price, qty) {
		return order.Quote{}, false
	}
	return order.Quote{
		Symbol:        q.symbol,
		Side:          side,
		Type:          order.TypeLimit,
		Price:         price,
		Qty:           qty,
		PostOnly:      true,
		ClientOrderID: order.NewClientID(tag, now),
	}, true
}

// spread 计算绝对价差。动态模式下盘口宽度占一半权重，且不低于配置下限。
func (q *SpreadQuoter) spread(snap market.Snapshot) float64 {
	base := q.cfg.SpreadPct * snap.Mid
	if !q.cfg.DynamicSpread {
		return base
	}
	width := snap.Ask - snap.Bid
	dynamic := snap.Mid*q.cfg.MinSpreadPct + width*0.5
	return math.Max(base, dynamic)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
