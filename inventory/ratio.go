package inventory

// Ratio 计算库存比：基础资产名义（free+locked，按 mid 计）相对预算的占比，
// 截断到 [0, 1]。预算或价格非法时返回 0.5（视为中性库存）。
func Ratio(baseFree, baseLocked, mid, budgetUsdt float64) float64 {
	if budgetUsdt <= 0 || mid <= 0 {
		return 0.5
	}
	r := (baseFree + baseLocked) * mid / budgetUsdt
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// Smoother 对库存比做指数平滑，避免单笔成交引起报价偏移抖动。
type Smoother struct {
	alpha float64
	value float64
	ready bool
}

// NewSmoother 创建平滑器；alpha 越大越跟随新值，(0,1] 之外取 0.2。
func NewSmoother(alpha float64) *Smoother {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.2
	}
	return &Smoother{alpha: alpha}
}

// Update 吸收一个新观测并返回平滑值；首个观测直接采用。
func (s *Smoother) Update(raw float64) float64 {
	if !s.ready {
		s.value = raw
		s.ready = true
		return s.value
	}
	s.value = s.alpha*raw + (1-s.alpha)*s.value
	return s.value
}

// Value 返回当前平滑值；尚无观测时为 0。
func (s *Smoother) Value() float64 {
	return s.value
}
