package order

import "math"

// SymbolConstraints 交易对的精度与名义限制，来自交易所 exchangeInfo。
// 零值字段表示该限制未知，对应检查跳过。
type SymbolConstraints struct {
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MaxQty      float64
	MinNotional float64
}

// RoundPrice 把价格对齐到 tickSize。买向下、卖向上都用就近取整即可，
// 做市报价离盘口有半个价差，半个 tick 的偏移不会导致穿价。
func (c SymbolConstraints) RoundPrice(price float64) float64 {
	if c.TickSize <= 0 {
		return price
	}
	return math.Round(price/c.TickSize) * c.TickSize
}

// RoundQty 把数量向下对齐到 stepSize，并压到 maxQty 以内。
// 向下取整保证不超出按名义算出的预算。
func (c SymbolConstraints) RoundQty(qty float64) float64 {
	if c.StepSize > 0 {
		qty = math.Floor(qty/c.StepSize) * c.StepSize
	}
	if c.MaxQty > 0 && qty > c.MaxQty {
		qty = c.MaxQty
	}
	return qty
}

// Fits 报价取整后是否仍满足最小数量与最小名义。
// 不满足的报价应整条丢弃而不是放大数量，放大会突破预算。
func (c SymbolConstraints) Fits(price, qty float64) bool {
	if qty <= 0 {
		return false
	}
	if c.MinQty > 0 && qty < c.MinQty {
		return false
	}
	if c.MinNotional > 0 && price*qty < c.MinNotional {
		return false
	}
	return true
}
