package gateway

import (
	"context"
	"errors"
	"net"
	"strings"

	"utrade-bots-go/market"
	"utrade-bots-go/order"
)

// Balance 单资产余额；每 tick 重新拉取，不在本地做增减。
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Fill 成交记录，供刷量成交聚合使用。
type Fill struct {
	OrderID  string
	Price    float64
	Qty      float64
	QuoteQty float64
	IsBuyer  bool
	TimeMs   int64
}

// Exchange 交易所协作方的能力集合。所有方法都可能失败，
// 失败的分类（瞬时/致命/单笔容忍）由编排循环负责。
type Exchange interface {
	GetMid(ctx context.Context, symbol string) (market.Snapshot, error)
	GetBalances(ctx context.Context) ([]Balance, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]order.OpenOrder, error)
	PlaceOrder(ctx context.Context, q order.Quote) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CancelAll(ctx context.Context, symbol string) error
	GetFills(ctx context.Context, symbol string, sinceMs int64) ([]Fill, error)
}

// IsTransient 判断错误是否为瞬时网络类错误：连接被重置/拒绝、超时、
// DNS 失败等。此类错误在 tick 顶层被吞掉并等待下一 tick，不触发状态转移。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"timed out",
		"no such host",
		"fetch failed",
		"eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
