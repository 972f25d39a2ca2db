package market

import (
	"context"
	"time"
)

// RESTQuoter 行情兜底查询（REST）。
type RESTQuoter interface {
	GetMid(ctx context.Context, symbol string) (Snapshot, error)
}

// Source 行情来源：优先使用 WS 推送的盘口，数据过期或无效时回退 REST。
type Source struct {
	Symbol     string
	Book       *Book
	REST       RESTQuoter
	StaleAfter time.Duration // 超过该时长未更新视为过期，默认 1.5s
	now        func() time.Time
}

// NewSource 创建行情来源。book 可为 nil（纯 REST 模式）。
func NewSource(symbol string, book *Book, rest RESTQuoter, staleAfter time.Duration) *Source {
	if staleAfter <= 0 {
		staleAfter = 1500 * time.Millisecond
	}
	return &Source{Symbol: symbol, Book: book, REST: rest, StaleAfter: staleAfter, now: time.Now}
}

// Snapshot 返回当前行情快照。WS 数据新鲜且有效时不发起网络调用；
// 否则走 REST，REST 失败时返回错误由调用方按瞬时错误处理。
func (s *Source) Snapshot(ctx context.Context) (Snapshot, error) {
	if s.Book != nil {
		snap := s.Book.Snapshot()
		if snap.Valid() && s.now().Sub(s.Book.UpdatedAt()) <= s.StaleAfter {
			return snap, nil
		}
	}
	if s.REST == nil {
		if s.Book != nil {
			return s.Book.Snapshot(), nil
		}
		return Snapshot{}, nil
	}
	snap, err := s.REST.GetMid(ctx, s.Symbol)
	if err != nil {
		return Snapshot{}, err
	}
	if s.Book != nil && snap.Valid() {
		s.Book.SetBest(snap.Bid, snap.Ask, s.now())
	}
	return snap, nil
}
