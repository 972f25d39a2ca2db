package market

import "math"

// Snapshot 某一 tick 的行情快照。Last 可能缺失（为 0）。
type Snapshot struct {
	Mid  float64
	Bid  float64
	Ask  float64
	Last float64
}

// Valid 判断快照可用：mid/bid/ask 均为正且有限。
// 无效快照会让当 tick 的全部下单逻辑停摆。
func (s Snapshot) Valid() bool {
	for _, v := range []float64{s.Mid, s.Bid, s.Ask} {
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// HalfSpread 返回半价差；快照无效时为 0。
func (s Snapshot) HalfSpread() float64 {
	if !s.Valid() {
		return 0
	}
	return (s.Ask - s.Bid) / 2
}
