package order

import "math"

// Tolerance 对账容差（相对值）。价格或数量偏差达到容差即视为不匹配，
// 需要撤旧挂新；小于容差则保留原单，减少撤换频率与限流压力。
type Tolerance struct {
	PriceEpsPct float64 // 例如 0.005 = 0.5%
	QtyEpsPct   float64 // 例如 0.02 = 2%
}

// DefaultTolerance 缺省容差。
func DefaultTolerance() Tolerance {
	return Tolerance{PriceEpsPct: 0.005, QtyEpsPct: 0.02}
}

// Plan 是一次对账的最小撤单/下单集合。调用方必须先执行 Cancel，
// 且同一 tick 内有待撤订单时不下发 Place，避免新旧订单短暂共存造成超额敞口。
type Plan struct {
	Cancel []OpenOrder
	Place  []Quote
}

// Empty 返回该计划是否无任何动作。
func (p Plan) Empty() bool {
	return len(p.Cancel) == 0 && len(p.Place) == 0
}

// Diff 计算把 open 收敛到 desired 所需的最小动作集。
//
// 每个挂单尝试匹配一个同方向、价格与数量均在容差内的目标报价；
// 能匹配则保留（不撤不挂），否则进入撤单队列。一个目标报价最多
// 保留一个挂单，多个候选时取价格最接近者。未被保留挂单占用的
// 目标报价进入下单队列。容差判定为严格小于：恰好等于容差视为越界。
func Diff(desired []Quote, open []OpenOrder, tol Tolerance) Plan {
	var plan Plan
	claimed := make([]bool, len(open))

	for _, q := range desired {
		if q.Type != TypeLimit || q.Price <= 0 {
			// 市价腿不参与对账，直接下发
			plan.Place = append(plan.Place, q)
			continue
		}
		best := -1
		bestDist := math.MaxFloat64
		for i, o := range open {
			if claimed[i] || o.Side != q.Side {
				continue
			}
			if !within(o.Price, q.Price, tol.PriceEpsPct) {
				continue
			}
			if !within(o.Qty, q.Qty, tol.QtyEpsPct) {
				continue
			}
			if d := math.Abs(o.Price - q.Price); d < bestDist {
				best, bestDist = i, d
			}
		}
		if best >= 0 {
			claimed[best] = true
			continue
		}
		plan.Place = append(plan.Place, q)
	}

	for i, o := range open {
		if !claimed[i] {
			plan.Cancel = append(plan.Cancel, o)
		}
	}
	return plan
}

// within 判断 have 相对 want 的偏差是否严格小于 epsPct。
func within(have, want, epsPct float64) bool {
	if want <= 0 {
		return false
	}
	return math.Abs(have-want)/want < epsPct
}
