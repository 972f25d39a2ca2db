// Package fills 聚合刷量订单的成交额，用于日内额度核算。
package fills

import (
	"context"
	"sync"
	"time"

	"utrade-bots-go/gateway"
	"utrade-bots-go/order"
	"utrade-bots-go/volume"
)

// Resolver 按订单 ID 还原 clientOrderID（订单归属）。
// 成交回报里通常没有 clientOrderID，归属关系在下单时已落库。
type Resolver interface {
	ClientOrderID(orderID string) (string, bool)
}

// Fetcher 是 gateway.Exchange 中成交查询的子集。
type Fetcher interface {
	GetFills(ctx context.Context, symbol string, sinceMs int64) ([]gateway.Fill, error)
}

// Syncer 周期性拉取成交明细，把刷量单的成交额累加到当日计数。
// 去重按 (orderID, fillTimeMs, qty) 三元组，交易所的成交流水不保证幂等拉取。
type Syncer struct {
	symbol   string
	exchange Fetcher
	resolver Resolver

	mu          sync.Mutex
	dayKey      string
	notional    float64
	lastFetchMs int64
	seen        map[fillKey]struct{}

	now func() time.Time
}

type fillKey struct {
	orderID string
	timeMs  int64
	qty     float64
}

func NewSyncer(symbol string, exchange Fetcher, resolver Resolver) *Syncer {
	return &Syncer{
		symbol:   symbol,
		exchange: exchange,
		resolver: resolver,
		seen:     make(map[fillKey]struct{}),
		now:      time.Now,
	}
}

// Seed 用持久化的当日累计值初始化，进程重启后从断点继续。
func (s *Syncer) Seed(dayKey string, notional float64, sinceMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dayKey = dayKey
	s.notional = notional
	s.lastFetchMs = sinceMs
}

// Sync 拉取一次增量成交并返回当日刷量成交额。
// 跨 UTC 日界时先清零再累加。
func (s *Syncer) Sync(ctx context.Context) (float64, error) {
	s.mu.Lock()
	since := s.lastFetchMs
	s.mu.Unlock()

	fills, err := s.exchange.GetFills(ctx, s.symbol, since)
	if err != nil {
		return s.Notional(), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	today := volume.DayKeyFor(s.now())
	if today != s.dayKey {
		s.dayKey = today
		s.notional = 0
		s.seen = make(map[fillKey]struct{})
	}
	s.pruneLocked(dedupeHorizon)

	for _, f := range fills {
		if f.TimeMs > s.lastFetchMs {
			s.lastFetchMs = f.TimeMs
		}
		key := fillKey{orderID: f.OrderID, timeMs: f.TimeMs, qty: f.Qty}
		if _, dup := s.seen[key]; dup {
			continue
		}
		s.seen[key] = struct{}{}

		clientID, ok := s.resolver.ClientOrderID(f.OrderID)
		if !ok || !order.IsVolume(clientID) {
			continue
		}
		if volume.DayKeyFor(time.UnixMilli(f.TimeMs).UTC()) != today {
			continue
		}
		notional := f.QuoteQty
		if notional <= 0 {
			notional = f.Price * f.Qty
		}
		s.notional += notional
	}
	return s.notional, nil
}

// Notional 当日已累计的刷量成交额。
func (s *Syncer) Notional() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notional
}

// dedupeHorizon 去重记录保留期。换日已清空 map，这里只兜底
// 成交时间戳异常靠前的记录。
const dedupeHorizon = 48 * time.Hour

// Prune 清理过老的去重记录，防止长跑进程内存膨胀。
// Sync 每轮自动调用，单独导出供手工维护场景使用。
func (s *Syncer) Prune(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(maxAge)
}

func (s *Syncer) pruneLocked(maxAge time.Duration) {
	cutoff := s.now().Add(-maxAge).UnixMilli()
	for key := range s.seen {
		if key.timeMs < cutoff {
			delete(s.seen, key)
		}
	}
}
