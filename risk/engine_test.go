package risk

import (
	"strings"
	"testing"

	"utrade-bots-go/gateway"
)

func TestEvaluateMaxOpenOrders(t *testing.T) {
	e := NewEngine(Limits{MaxOpenOrders: 10}, "ETH", "USDT")

	d := e.Evaluate(Input{
		Balances:   []gateway.Balance{{Asset: "USDT", Free: 0}},
		OpenOrders: 12,
	})
	if d.OK {
		t.Fatal("want deny")
	}
	if !strings.Contains(d.Reason, "too many open orders") {
		t.Fatalf("reason = %q", d.Reason)
	}

	// 恰好等于阈值允许
	d = e.Evaluate(Input{OpenOrders: 10})
	if !d.OK {
		t.Fatalf("10 orders should pass, reason = %q", d.Reason)
	}
}

func TestEvaluateQuoteBalance(t *testing.T) {
	e := NewEngine(Limits{MinQuoteBalance: 50}, "ETH", "USDT")

	d := e.Evaluate(Input{Balances: []gateway.Balance{{Asset: "USDT", Free: 20}}})
	if d.OK {
		t.Fatal("want deny on low quote balance")
	}
	d = e.Evaluate(Input{Balances: []gateway.Balance{{Asset: "USDT", Free: 51}}})
	if !d.OK {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestEvaluateBaseExposure(t *testing.T) {
	e := NewEngine(Limits{MaxBaseExposureUsdt: 1000}, "ETH", "USDT")

	d := e.Evaluate(Input{
		Balances: []gateway.Balance{{Asset: "ETH", Free: 0.4, Locked: 0.2}},
		Mid:      2000, // 0.6 * 2000 = 1200 > 1000
	})
	if d.OK {
		t.Fatal("want deny on exposure")
	}

	// mid 缺失时跳过名义检查（没有价格无法估值）
	d = e.Evaluate(Input{
		Balances: []gateway.Balance{{Asset: "ETH", Free: 10}},
		Mid:      0,
	})
	if !d.OK {
		t.Fatalf("reason = %q", d.Reason)
	}
}

func TestEvaluateZeroLimitsDisableChecks(t *testing.T) {
	e := NewEngine(Limits{}, "ETH", "USDT")
	d := e.Evaluate(Input{OpenOrders: 999})
	if !d.OK {
		t.Fatalf("zero limits should disable all checks, reason = %q", d.Reason)
	}
}
