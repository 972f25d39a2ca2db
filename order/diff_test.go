package order

import (
	"testing"
)

func limitQuote(side Side, price, qty float64) Quote {
	return Quote{Symbol: "ETHUSDT", Side: side, Type: TypeLimit, Price: price, Qty: qty}
}

func openOrder(id string, side Side, price, qty float64) OpenOrder {
	return OpenOrder{ID: id, Symbol: "ETHUSDT", Side: side, Price: price, Qty: qty}
}

// 全部挂单都在容差内时不应产生任何动作（幂等性）
func TestDiffIdempotent(t *testing.T) {
	tol := DefaultTolerance()
	desired := []Quote{
		limitQuote(SideBuy, 2000.0, 0.5),
		limitQuote(SideSell, 2010.0, 0.5),
	}
	open := []OpenOrder{
		openOrder("1", SideBuy, 2001.0, 0.5),  // 0.05% 偏差
		openOrder("2", SideSell, 2009.0, 0.5), // 0.05% 偏差
	}

	plan := Diff(desired, open, tol)
	if !plan.Empty() {
		t.Fatalf("plan = %+v, want empty", plan)
	}
}

// 恰好等于容差视为越界，必须撤换；小一个 epsilon 则保留
func TestDiffToleranceBoundary(t *testing.T) {
	tol := Tolerance{PriceEpsPct: 0.005, QtyEpsPct: 0.02}
	desired := []Quote{limitQuote(SideBuy, 2000.0, 1.0)}

	tests := []struct {
		name      string
		openPrice float64
		wantKeep  bool
	}{
		{"exactly at priceEpsPct", 2000.0 * 1.005, false},
		{"just inside priceEpsPct", 2000.0 * 1.00499, true},
		{"just outside priceEpsPct", 2000.0 * 1.00501, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			open := []OpenOrder{openOrder("1", SideBuy, tt.openPrice, 1.0)}
			plan := Diff(desired, open, tol)
			if tt.wantKeep {
				if !plan.Empty() {
					t.Fatalf("plan = %+v, want keep", plan)
				}
				return
			}
			if len(plan.Cancel) != 1 || len(plan.Place) != 1 {
				t.Fatalf("plan = %+v, want 1 cancel + 1 place", plan)
			}
		})
	}
}

func TestDiffQtyOutOfTolerance(t *testing.T) {
	tol := DefaultTolerance()
	desired := []Quote{limitQuote(SideSell, 2000.0, 1.0)}
	open := []OpenOrder{openOrder("1", SideSell, 2000.0, 1.05)} // 5% > 2%

	plan := Diff(desired, open, tol)
	if len(plan.Cancel) != 1 || plan.Cancel[0].ID != "1" {
		t.Fatalf("cancel = %+v, want order 1", plan.Cancel)
	}
	if len(plan.Place) != 1 {
		t.Fatalf("place = %+v, want re-place", plan.Place)
	}
}

// 同一目标报价有多个容差内挂单时，保留价格最接近者，其余撤掉
func TestDiffClosestMatchWins(t *testing.T) {
	tol := Tolerance{PriceEpsPct: 0.01, QtyEpsPct: 0.1}
	desired := []Quote{limitQuote(SideBuy, 2000.0, 1.0)}
	open := []OpenOrder{
		openOrder("far", SideBuy, 2012.0, 1.0),
		openOrder("near", SideBuy, 2001.0, 1.0),
	}

	plan := Diff(desired, open, tol)
	if len(plan.Cancel) != 1 || plan.Cancel[0].ID != "far" {
		t.Fatalf("cancel = %+v, want only far order", plan.Cancel)
	}
	if len(plan.Place) != 0 {
		t.Fatalf("place = %+v, want none", plan.Place)
	}
}

func TestDiffSideNeverCrossMatched(t *testing.T) {
	tol := DefaultTolerance()
	desired := []Quote{limitQuote(SideBuy, 2000.0, 1.0)}
	open := []OpenOrder{openOrder("1", SideSell, 2000.0, 1.0)}

	plan := Diff(desired, open, tol)
	if len(plan.Cancel) != 1 || len(plan.Place) != 1 {
		t.Fatalf("plan = %+v, want cancel sell + place buy", plan)
	}
}

func TestDiffMarketQuotePassesThrough(t *testing.T) {
	q := Quote{Symbol: "ETHUSDT", Side: SideBuy, Type: TypeMarket, Qty: 0.3}
	plan := Diff([]Quote{q}, nil, DefaultTolerance())
	if len(plan.Place) != 1 || plan.Place[0].Type != TypeMarket {
		t.Fatalf("plan = %+v, want market order placed", plan)
	}
}

func TestDiffEmptyDesiredCancelsAll(t *testing.T) {
	open := []OpenOrder{
		openOrder("1", SideBuy, 2000.0, 1.0),
		openOrder("2", SideSell, 2010.0, 1.0),
	}
	plan := Diff(nil, open, DefaultTolerance())
	if len(plan.Cancel) != 2 || len(plan.Place) != 0 {
		t.Fatalf("plan = %+v, want cancel both", plan)
	}
}
