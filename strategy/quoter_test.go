package strategy

import (
	"math"
	"testing"
	"time"

	"utrade-bots-go/market"
	"utrade-bots-go/order"
)

func testQuoter(cfg SpreadConfig) *SpreadQuoter {
	q := NewSpreadQuoter("ABCUSDT", cfg)
	q.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return q
}

func snap(mid float64) market.Snapshot {
	return market.Snapshot{Mid: mid, Bid: mid * 0.999, Ask: mid * 1.001, Last: mid}
}

func TestGenerateQuotesSymmetric(t *testing.T) {
	q := testQuoter(SpreadConfig{SpreadPct: 0.004, QuoteNotionalUsdt: 100})
	quotes, err := q.GenerateQuotes(Input{Snapshot: snap(2.0), InvRatio: 0.5})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("quotes = %d, want 2", len(quotes))
	}

	buy, sell := quotes[0], quotes[1]
	if buy.Side != order.SideBuy || sell.Side != order.SideSell {
		t.Fatalf("sides = %s, %s", buy.Side, sell.Side)
	}
	wantHalf := 2.0 * 0.004 / 2
	if math.Abs(buy.Price-(2.0-wantHalf)) > 1e-12 {
		t.Errorf("buy price = %v, want %v", buy.Price, 2.0-wantHalf)
	}
	if math.Abs(sell.Price-(2.0+wantHalf)) > 1e-12 {
		t.Errorf("sell price = %v, want %v", sell.Price, 2.0+wantHalf)
	}
	if math.Abs(buy.Qty*buy.Price-100) > 1e-9 {
		t.Errorf("buy notional = %v, want 100", buy.Qty*buy.Price)
	}
	if !buy.PostOnly || !sell.PostOnly {
		t.Error("maker quotes must be post-only")
	}
	if !order.IsMarketMaking(buy.ClientOrderID) || !order.IsMarketMaking(sell.ClientOrderID) {
		t.Errorf("client ids = %s, %s", buy.ClientOrderID, sell.ClientOrderID)
	}
}

func TestGenerateQuotesInventorySkew(t *testing.T) {
	q := testQuoter(SpreadConfig{SpreadPct: 0.004, QuoteNotionalUsdt: 100, SkewFactor: 0.5})

	neutral, err := q.GenerateQuotes(Input{Snapshot: snap(2.0), InvRatio: 0.5})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}
	long, err := q.GenerateQuotes(Input{Snapshot: snap(2.0), InvRatio: 1.0})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}
	short, err := q.GenerateQuotes(Input{Snapshot: snap(2.0), InvRatio: 0.0})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}

	// 库存偏多：双边整体下移，卖得更积极
	if !(long[0].Price < neutral[0].Price && long[1].Price < neutral[1].Price) {
		t.Errorf("long skew should shift both quotes down: long=%v/%v neutral=%v/%v",
			long[0].Price, long[1].Price, neutral[0].Price, neutral[1].Price)
	}
	// 库存偏少：双边整体上移
	if !(short[0].Price > neutral[0].Price && short[1].Price > neutral[1].Price) {
		t.Errorf("short skew should shift both quotes up")
	}
}

func TestGenerateQuotesSizeMultiplier(t *testing.T) {
	q := testQuoter(SpreadConfig{SpreadPct: 0.004, QuoteNotionalUsdt: 100})
	quotes, err := q.GenerateQuotes(Input{Snapshot: snap(2.0), InvRatio: 0.5, SizeMul: 0.25})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}
	if math.Abs(quotes[0].Qty*quotes[0].Price-25) > 1e-9 {
		t.Errorf("scaled notional = %v, want 25", quotes[0].Qty*quotes[0].Price)
	}
}

func TestGenerateQuotesInvalidSnapshot(t *testing.T) {
	q := testQuoter(SpreadConfig{SpreadPct: 0.004, QuoteNotionalUsdt: 100})
	if _, err := q.GenerateQuotes(Input{Snapshot: market.Snapshot{Mid: math.NaN()}}); err == nil {
		t.Fatal("expected error for invalid snapshot")
	}
}

func TestGenerateQuotesDynamicSpreadWidens(t *testing.T) {
	narrow := testQuoter(SpreadConfig{SpreadPct: 0.001, QuoteNotionalUsdt: 100, DynamicSpread: true})
	wide := market.Snapshot{Mid: 2.0, Bid: 1.96, Ask: 2.04, Last: 2.0} // 4% 盘口

	quotes, err := narrow.GenerateQuotes(Input{Snapshot: wide, InvRatio: 0.5})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}
	gotSpread := quotes[1].Price - quotes[0].Price
	if gotSpread <= 0.001*2.0 {
		t.Errorf("dynamic spread = %v, want wider than configured %v", gotSpread, 0.001*2.0)
	}
}

func TestNewQuoterFactory(t *testing.T) {
	if _, err := NewQuoter("spread", "ABCUSDT", SpreadConfig{}); err != nil {
		t.Fatalf("spread quoter: %v", err)
	}
	if _, err := NewQuoter("", "ABCUSDT", SpreadConfig{}); err != nil {
		t.Fatalf("default quoter: %v", err)
	}
	if _, err := NewQuoter("martingale", "ABCUSDT", SpreadConfig{}); err == nil {
		t.Fatal("expected error for unknown quoter")
	}
}

func TestGenerateQuotesAppliesConstraints(t *testing.T) {
	q := testQuoter(SpreadConfig{
		SpreadPct:         0.004,
		QuoteNotionalUsdt: 100,
		Constraints: order.SymbolConstraints{
			TickSize: 0.01,
			StepSize: 0.001,
		},
	})
	snap := market.Snapshot{Mid: 99.987, Bid: 99.9, Ask: 100.074, Last: 99.987}

	quotes, err := q.GenerateQuotes(Input{Snapshot: snap, InvRatio: 0.5, SizeMul: 1})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("len(quotes) = %d, want 2", len(quotes))
	}
	for _, quote := range quotes {
		if r := math.Mod(quote.Price+1e-9, 0.01); r > 2e-9 && 0.01-r > 2e-9 {
			t.Errorf("price %v not aligned to tick", quote.Price)
		}
		if r := math.Mod(quote.Qty+1e-9, 0.001); r > 2e-9 && 0.001-r > 2e-9 {
			t.Errorf("qty %v not aligned to step", quote.Qty)
		}
	}
}

func TestGenerateQuotesDropsSubMinNotional(t *testing.T) {
	q := testQuoter(SpreadConfig{
		SpreadPct:         0.004,
		QuoteNotionalUsdt: 3,
		Constraints:       order.SymbolConstraints{MinNotional: 5},
	})
	snap := market.Snapshot{Mid: 100, Bid: 99.9, Ask: 100.1, Last: 100}

	quotes, err := q.GenerateQuotes(Input{Snapshot: snap, InvRatio: 0.5})
	if err != nil {
		t.Fatalf("GenerateQuotes: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("len(quotes) = %d, want 0 for sub-minNotional quotes", len(quotes))
	}
}
