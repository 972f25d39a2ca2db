package market

import (
	"sync"
	"time"
)

// Book 维护单交易对的最优买卖价，由行情流推送更新。
// 不保存全量深度：刷量与做市定价只需要 top-of-book。
type Book struct {
	mu       sync.RWMutex
	bid      float64
	ask      float64
	last     float64
	updateAt time.Time
}

// NewBook 创建空盘口。
func NewBook() *Book {
	return &Book{}
}

// SetBest 更新最优买卖价。
func (b *Book) SetBest(bid, ask float64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bid = bid
	b.ask = ask
	b.updateAt = ts
}

// SetLast 更新最新成交价。
func (b *Book) SetLast(price float64, ts time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.last = price
	if ts.After(b.updateAt) {
		b.updateAt = ts
	}
}

// Snapshot 返回当前盘口快照；任一侧缺失时快照无效。
func (b *Book) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s := Snapshot{Bid: b.bid, Ask: b.ask, Last: b.last}
	if b.bid > 0 && b.ask > 0 {
		s.Mid = (b.bid + b.ask) / 2
	}
	return s
}

// UpdatedAt 返回最近一次更新时间。
func (b *Book) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updateAt
}
