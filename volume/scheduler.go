package volume

import (
	"math/rand"
	"time"

	"utrade-bots-go/market"
	"utrade-bots-go/order"
)

// Mode 刷量模式。
type Mode string

const (
	ModeActive  Mode = "ACTIVE"  // maker 腿 + 反向 taker 腿配对，保证成交
	ModePassive Mode = "PASSIVE" // 只挂被动单
	ModeMixed   Mode = "MIXED"
)

// Config 刷量参数；一个 config epoch 内不可变，热更新时整体重建调度器。
type Config struct {
	Mode              Mode
	MinTradeUsdt      float64 // 单腿最小名义，低于该值整腿跳过
	MaxTradeUsdt      float64
	DailyNotionalUsdt float64 // 当日名义目标，达标后停止排期
	MinIntervalMs     int64   // 两次刷量之间的最小间隔
	MMSpreadPct       float64 // 做市报价全价差（比例），定价偏移的基准
	SafetyMult        float64 // 价格偏移的安全乘数
	TTLActive         time.Duration
	TTLPassive        time.Duration
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeActive
	}
	if c.MinTradeUsdt <= 0 {
		c.MinTradeUsdt = 10
	}
	if c.MaxTradeUsdt < c.MinTradeUsdt {
		c.MaxTradeUsdt = c.MinTradeUsdt
	}
	if c.MinIntervalMs <= 0 {
		c.MinIntervalMs = 15000
	}
	if c.SafetyMult <= 0 {
		c.SafetyMult = 1
	}
	if c.TTLActive <= 0 {
		c.TTLActive = 8 * time.Second
	}
	if c.TTLPassive <= 0 {
		c.TTLPassive = 90 * time.Second
	}
	return c
}

// Env 调度当 tick 的外部输入。
type Env struct {
	Snapshot  market.Snapshot
	FreeBase  float64
	FreeUsdt  float64
	MMEnabled bool // 做市开关打开时被动腿让路（不吃自己的挂单）
}

// Plan 一次刷量动作：Maker 腿必发，Taker 腿（ACTIVE 配对）可能为 nil。
// 调用方必须先下发并等待 Maker 腿，再尝试 Taker 腿。
type Plan struct {
	Maker order.Quote
	Taker *order.Quote
}

const (
	forcedFlipStreak = 5
	flipProbability  = 0.40
	noCrossBuyCap    = 0.999 // buy ≤ ask·0.999
	noCrossSellCap   = 1.001 // sell ≥ bid·1.001
)

// Scheduler 每 tick 至多决策一次是否产生新的刷量单。
// 随机源从外部注入，测试可用固定种子压出确定分支。
type Scheduler struct {
	symbol string
	cfg    Config
	rng    *rand.Rand
	now    func() time.Time
}

// NewScheduler 创建调度器。
func NewScheduler(symbol string, cfg Config, rng *rand.Rand) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{symbol: symbol, cfg: cfg.withDefaults(), rng: rng, now: time.Now}
}

// TTL 返回当前模式下 vol 挂单的存活上限，供每 tick 的过期清扫使用。
func (s *Scheduler) TTL() time.Duration {
	if s.cfg.Mode == ModeActive {
		return s.cfg.TTLActive
	}
	return s.cfg.TTLPassive
}

// MaybeTrade 决定本 tick 是否产生一笔刷量单。不产生时返回 nil：
// 未到节奏点、当日目标已达成、行情无效或两侧余额都不足。
func (s *Scheduler) MaybeTrade(env Env, st *State) *Plan {
	snap := env.Snapshot
	if !snap.Valid() {
		return nil
	}
	now := s.now()
	st.Roll(now)
	if s.cfg.DailyNotionalUsdt > 0 && st.TradedNotional >= s.cfg.DailyNotionalUsdt {
		return nil
	}
	if !s.due(now, st) {
		return nil
	}

	side, ok := s.pickSide(env, st)
	if !ok {
		return nil
	}

	notional := s.cfg.MinTradeUsdt + s.rng.Float64()*(s.cfg.MaxTradeUsdt-s.cfg.MinTradeUsdt)
	if s.cfg.Mode == ModeActive {
		return s.activePlan(side, notional, env)
	}
	return s.passivePlan(side, notional, env)
}

// due 判断距上次动作是否已超过带抖动的最小间隔。
func (s *Scheduler) due(now time.Time, st *State) bool {
	if st.LastActionMs == 0 {
		return true
	}
	jitter := 0.75 + 0.5*s.rng.Float64()
	min := int64(float64(s.cfg.MinIntervalMs) * jitter)
	return now.UnixMilli()-st.LastActionMs >= min
}

// pickSide 选方向：优先避开余额枯竭的一侧；两侧都不足则放弃。
// 正常情况下带均值回归地交替：连击 ≥5 强制换向，否则 40% 概率换向，
// 避免肉眼可见的单边流。
func (s *Scheduler) pickSide(env Env, st *State) (order.Side, bool) {
	sellStarved := env.FreeBase*env.Snapshot.Bid < s.cfg.MinTradeUsdt
	buyStarved := env.FreeUsdt < s.cfg.MinTradeUsdt
	switch {
	case sellStarved && buyStarved:
		return "", false
	case sellStarved:
		return order.SideBuy, true
	case buyStarved:
		return order.SideSell, true
	}

	if st.LastSide == "" {
		if s.rng.Float64() < 0.5 {
			return order.SideBuy, true
		}
		return order.SideSell, true
	}
	if st.SideStreak >= forcedFlipStreak || s.rng.Float64() < flipProbability {
		return st.LastSide.Opposite(), true
	}
	return st.LastSide, true
}

// activePlan 生成 maker+taker 配对。maker 腿定价在 mid 附近、
// 不越过对侧最优价；taker 腿按 maker 名义市价反向回补，
// 任一腿余额不足或低于最小名义时只跳过该腿。
func (s *Scheduler) activePlan(side order.Side, notional float64, env Env) *Plan {
	snap := env.Snapshot
	price := s.makerPrice(side, snap)
	qty := notional / price

	// maker 腿余额约束
	if side == order.SideSell {
		if qty > env.FreeBase {
			qty = env.FreeBase
		}
	} else if notional > env.FreeUsdt {
		qty = env.FreeUsdt / price
	}
	if price*qty < s.cfg.MinTradeUsdt {
		return nil
	}

	plan := &Plan{Maker: order.Quote{
		Symbol:        s.symbol,
		Side:          side,
		Type:          order.TypeLimit,
		Price:         price,
		Qty:           qty,
		ClientOrderID: order.NewClientID(order.TagVolume, s.now()),
	}}

	takerSide := side.Opposite()
	makerNotional := price * qty
	taker := order.Quote{
		Symbol:        s.symbol,
		Side:          takerSide,
		Type:          order.TypeMarket,
		ClientOrderID: order.NewClientID(order.TagVolume, s.now().Add(time.Millisecond)),
	}
	if takerSide == order.SideBuy {
		quoteQty := makerNotional
		if quoteQty > env.FreeUsdt {
			quoteQty = env.FreeUsdt
		}
		if quoteQty < s.cfg.MinTradeUsdt {
			return plan
		}
		taker.QuoteQty = quoteQty
	} else {
		tq := qty
		if tq > env.FreeBase {
			tq = env.FreeBase
		}
		if tq*snap.Mid < s.cfg.MinTradeUsdt {
			return plan
		}
		taker.Qty = tq
	}
	plan.Taker = &taker
	return plan
}

// passivePlan 生成单腿。做市开关打开时转为 mid 附近半价差之外的
// 被动限价单，避免吃掉自己做市的挂单；否则直接市价。
func (s *Scheduler) passivePlan(side order.Side, notional float64, env Env) *Plan {
	snap := env.Snapshot
	q := order.Quote{
		Symbol:        s.symbol,
		Side:          side,
		ClientOrderID: order.NewClientID(order.TagVolume, s.now()),
	}
	if env.MMEnabled {
		q.Type = order.TypeLimit
		q.PostOnly = true
		q.Price = s.passivePrice(side, snap)
		q.Qty = notional / q.Price
	} else {
		q.Type = order.TypeMarket
		if side == order.SideBuy {
			q.QuoteQty = notional
		} else {
			q.Qty = notional / snap.Mid
		}
	}

	// 余额与最小名义再校验
	if side == order.SideSell {
		if q.Qty > env.FreeBase {
			q.Qty = env.FreeBase
		}
		if q.Qty*snap.Mid < s.cfg.MinTradeUsdt {
			return nil
		}
	} else {
		n := q.Notional(snap.Mid)
		if n > env.FreeUsdt || n < s.cfg.MinTradeUsdt {
			return nil
		}
	}
	return &Plan{Maker: q}
}

// passivePrice 偏移至少一个完整半价差再加随机余量，保证被动腿
// 落在自家做市报价之外，不会排在做市单前面先被吃掉。
func (s *Scheduler) passivePrice(side order.Side, snap market.Snapshot) float64 {
	halfSpreadPct := s.cfg.MMSpreadPct / 2
	offset := halfSpreadPct * (1 + s.rng.Float64()*s.cfg.SafetyMult)
	if side == order.SideBuy {
		return snap.Mid * (1 - offset)
	}
	return snap.Mid * (1 + offset)
}

// makerPrice 在 mid 基础上偏移半价差的随机比例（乘安全系数），
// 并收在不越过对侧最优价的界内。
func (s *Scheduler) makerPrice(side order.Side, snap market.Snapshot) float64 {
	halfSpreadPct := s.cfg.MMSpreadPct / 2
	offset := s.rng.Float64() * halfSpreadPct * s.cfg.SafetyMult
	if side == order.SideBuy {
		price := snap.Mid * (1 - offset)
		if limit := snap.Ask * noCrossBuyCap; price > limit {
			price = limit
		}
		return price
	}
	price := snap.Mid * (1 + offset)
	if floor := snap.Bid * noCrossSellCap; price < floor {
		price = floor
	}
	return price
}
