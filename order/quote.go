package order

// Side of an order, exchange notation.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type of an order.
type Type string

const (
	TypeLimit  Type = "LIMIT"
	TypeMarket Type = "MARKET"
)

// Quote is a desired order produced by the quoting strategy or the volume
// scheduler. Price is meaningful for LIMIT only; QuoteQty, when set, sizes a
// market buy by quote notional instead of base quantity.
type Quote struct {
	Symbol        string
	Side          Side
	Type          Type
	Price         float64
	Qty           float64
	QuoteQty      float64
	PostOnly      bool
	ClientOrderID string
}

// Notional returns the approximate quote-asset value of the order at ref.
func (q Quote) Notional(ref float64) float64 {
	if q.QuoteQty > 0 {
		return q.QuoteQty
	}
	if q.Price > 0 {
		return q.Price * q.Qty
	}
	return ref * q.Qty
}

// OpenOrder is an exchange-reported live order. The exchange owns it; the
// bot only reads and cancels.
type OpenOrder struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Side          Side
	Price         float64
	Qty           float64
}
