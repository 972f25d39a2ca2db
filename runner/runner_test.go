package runner

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"utrade-bots-go/bot"
	"utrade-bots-go/config"
	"utrade-bots-go/gate"
	"utrade-bots-go/gateway"
	"utrade-bots-go/infrastructure/alert"
	"utrade-bots-go/infrastructure/logger"
	"utrade-bots-go/infrastructure/monitor"
	"utrade-bots-go/market"
	"utrade-bots-go/order"
	"utrade-bots-go/store"
	"utrade-bots-go/strategy"
)

// fakeExchange 单协程测试替身，记录所有调用。
type fakeExchange struct {
	balances []gateway.Balance
	open     []order.OpenOrder
	fills    []gateway.Fill

	placed      []order.Quote
	canceled    []string
	cancelAlls  int
	nextID      int
	placeErr    error
	balancesErr error
}

func (f *fakeExchange) GetMid(ctx context.Context, symbol string) (market.Snapshot, error) {
	return market.Snapshot{}, fmt.Errorf("not used")
}

func (f *fakeExchange) GetBalances(ctx context.Context) ([]gateway.Balance, error) {
	if f.balancesErr != nil {
		return nil, f.balancesErr
	}
	return f.balances, nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]order.OpenOrder, error) {
	out := make([]order.OpenOrder, len(f.open))
	copy(out, f.open)
	return out, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, q order.Quote) (string, error) {
	if f.placeErr != nil {
		return "", f.placeErr
	}
	f.placed = append(f.placed, q)
	f.nextID++
	id := strconv.Itoa(f.nextID)
	if q.Type == order.TypeLimit {
		f.open = append(f.open, order.OpenOrder{
			ID: id, ClientOrderID: q.ClientOrderID, Symbol: q.Symbol,
			Side: q.Side, Price: q.Price, Qty: q.Qty,
		})
	}
	return id, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	kept := f.open[:0]
	for _, oo := range f.open {
		if oo.ID != orderID {
			kept = append(kept, oo)
		}
	}
	f.open = kept
	return nil
}

func (f *fakeExchange) CancelAll(ctx context.Context, symbol string) error {
	f.cancelAlls++
	f.open = nil
	return nil
}

func (f *fakeExchange) GetFills(ctx context.Context, symbol string, sinceMs int64) ([]gateway.Fill, error) {
	return f.fills, nil
}

type fakePrice struct {
	snap market.Snapshot
	err  error
}

func (p *fakePrice) Snapshot(ctx context.Context) (market.Snapshot, error) {
	return p.snap, p.err
}

type fakeFills struct {
	notional float64
	err      error
	calls    int
}

func (s *fakeFills) Sync(ctx context.Context) (float64, error) {
	s.calls++
	return s.notional, s.err
}

type fakeGate struct {
	policy gate.Policy
	state  *gate.PredictionState
	err    error
}

func (g *fakeGate) Load() (gate.Policy, *gate.PredictionState, error) {
	return g.policy, g.state, g.err
}

type harness struct {
	runner   *Runner
	exchange *fakeExchange
	store    *store.Memory
	price    *fakePrice
	notify   *alert.MockChannel
}

func defaultBotConfig() store.BotConfig {
	return store.BotConfig{
		Bot: store.Bot{
			ID: 1, Symbol: "ABCUSDT", BaseAsset: "ABC", QuoteAsset: "USDT",
			Status: "RUNNING", MMEnabled: true, VolEnabled: true, TickMs: 2000,
		},
		MM:   store.MMConfig{SpreadPct: 0.004, QuoteNotionalUsdt: 100, InvBudgetUsdt: 1000, InvAlpha: 0.2},
		Vol:  store.VolConfig{Mode: "ACTIVE", MinTradeUsdt: 10, MaxTradeUsdt: 20, DailyNotionalUsdt: 500, MinIntervalMs: 1, SafetyMult: 1},
		Risk: store.RiskConfig{MaxOpenOrders: 10, MinQuoteBalance: 0, MaxBaseExposureUsdt: 0},
	}
}

func goodSnapshot() market.Snapshot {
	return market.Snapshot{Mid: 2.0, Bid: 1.998, Ask: 2.002, Last: 2.0}
}

func richBalances() []gateway.Balance {
	return []gateway.Balance{
		{Asset: "ABC", Free: 500, Locked: 0},
		{Asset: "USDT", Free: 1000, Locked: 0},
	}
}

func newHarness(t *testing.T, cfg store.BotConfig, deps func(*Deps)) *harness {
	t.Helper()
	ex := &fakeExchange{balances: richBalances()}
	mem := store.NewMemory()
	mem.Bots[1] = cfg
	price := &fakePrice{snap: goodSnapshot()}
	ch := alert.NewMockChannel("mock")

	d := Deps{
		Exchange: ex,
		Store:    mem,
		Price:    price,
		Quoter:   strategy.NewSpreadQuoter(cfg.Bot.Symbol, strategy.SpreadConfig{SpreadPct: cfg.MM.SpreadPct, QuoteNotionalUsdt: cfg.MM.QuoteNotionalUsdt}),
		Alerts:   alert.NewManager([]alert.Channel{ch}, time.Minute),
		Monitor:  monitor.New(monitor.DefaultConfig()),
		Log:      logger.Nop(),
	}
	if deps != nil {
		deps(&d)
	}

	r := New(1, config.DefaultTuning(), d, rand.New(rand.NewSource(1)))
	r.applyConfig(cfg)
	return &harness{runner: r, exchange: ex, store: mem, price: price, notify: ch}
}

func TestRiskHaltSequence(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.VolEnabled = true
	h := newHarness(t, cfg, nil)

	// 12 个挂单超过 maxOpenOrders=10
	for i := 0; i < 12; i++ {
		h.exchange.open = append(h.exchange.open, order.OpenOrder{
			ID: strconv.Itoa(100 + i), ClientOrderID: order.NewClientID(order.TagMakerBuy, time.Now()),
			Side: order.SideBuy, Price: 1.9, Qty: 1,
		})
	}
	h.exchange.balances = []gateway.Balance{{Asset: "USDT", Free: 0}}

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if h.exchange.cancelAlls != 1 {
		t.Errorf("cancelAlls = %d, want exactly 1", h.exchange.cancelAlls)
	}
	if h.store.FlagUpdates != 1 {
		t.Errorf("flag updates = %d, want exactly 1", h.store.FlagUpdates)
	}
	got, _ := h.store.LoadBotConfig(context.Background(), 1)
	if got.Bot.MMEnabled || got.Bot.VolEnabled {
		t.Errorf("flags not disabled: %+v", got.Bot)
	}
	if len(h.store.Alerts) != 1 || h.store.Alerts[0].Level != "warn" {
		t.Errorf("alerts = %+v, want exactly one warn", h.store.Alerts)
	}
	if h.notify.Count() != 1 {
		t.Errorf("notifications = %d, want 1", h.notify.Count())
	}
	// 风控是节流不是终止：状态仍为 RUNNING，原因被记录
	if h.runner.machine.Status() != bot.StatusRunning {
		t.Errorf("status = %v, want RUNNING", h.runner.machine.Status())
	}
	if h.runner.machine.Reason() == "" {
		t.Error("risk reason not recorded")
	}
	if len(h.exchange.placed) != 0 {
		t.Errorf("placed = %d orders after halt, want 0", len(h.exchange.placed))
	}
}

func TestInvalidMidSuspendsTrading(t *testing.T) {
	h := newHarness(t, defaultBotConfig(), nil)
	h.price.snap = market.Snapshot{Mid: math.NaN(), Bid: 2.0, Ask: 2.0}

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(h.exchange.placed) != 0 || len(h.exchange.canceled) != 0 || h.exchange.cancelAlls != 0 {
		t.Errorf("order calls on invalid mid: placed=%d canceled=%d cancelAll=%d",
			len(h.exchange.placed), len(h.exchange.canceled), h.exchange.cancelAlls)
	}
	rt, ok := h.store.LastRuntime()
	if !ok {
		t.Fatal("no runtime written")
	}
	if rt.Reason != "Market data unavailable" {
		t.Errorf("reason = %q, want %q", rt.Reason, "Market data unavailable")
	}
}

func TestMMPlacesQuotesWhenBookEmpty(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.VolEnabled = false
	h := newHarness(t, cfg, nil)

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(h.exchange.placed) != 2 {
		t.Fatalf("placed = %d, want 2 maker quotes", len(h.exchange.placed))
	}
	for _, q := range h.exchange.placed {
		if !q.PostOnly || !order.IsMarketMaking(q.ClientOrderID) {
			t.Errorf("quote %+v: want post-only mm order", q)
		}
	}
	if len(h.store.OrderMap) != 2 {
		t.Errorf("order map entries = %d, want 2", len(h.store.OrderMap))
	}
}

func TestCancelDefersPlacementToNextTick(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.VolEnabled = false
	h := newHarness(t, cfg, nil)

	// 一个远离目标价的做市挂单，必然超容差
	h.exchange.open = []order.OpenOrder{{
		ID: "50", ClientOrderID: order.NewClientID(order.TagMakerBuy, time.Now()),
		Side: order.SideBuy, Price: 1.5, Qty: 10,
	}}

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.exchange.canceled) != 1 {
		t.Fatalf("canceled = %d, want 1", len(h.exchange.canceled))
	}
	if len(h.exchange.placed) != 0 {
		t.Fatalf("placed = %d in same tick as cancel, want 0", len(h.exchange.placed))
	}

	// 下一 tick：无做市挂单，直接挂新报价
	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if len(h.exchange.placed) != 2 {
		t.Errorf("placed = %d after second tick, want 2", len(h.exchange.placed))
	}
}

func TestStaleVolOrderSweptOnce(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.MMEnabled = false
	cfg.Bot.VolEnabled = false
	h := newHarness(t, cfg, nil)

	// ACTIVE 模式 TTL 8s，放一个 60s 前的 vol 单
	stale := order.NewClientID(order.TagVolume, time.Now().Add(-60*time.Second))
	h.exchange.open = []order.OpenOrder{{ID: "70", ClientOrderID: stale, Side: order.SideBuy, Price: 1.9, Qty: 1}}

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.exchange.canceled) != 1 || h.exchange.canceled[0] != "70" {
		t.Fatalf("canceled = %v, want exactly [70]", h.exchange.canceled)
	}

	// 已撤掉，下一 tick 不会重复撤
	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if len(h.exchange.canceled) != 1 {
		t.Errorf("canceled = %d after second tick, want still 1", len(h.exchange.canceled))
	}
}

func TestDailyAlertFiresOnce(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.MMEnabled = false
	cfg.Bot.VolEnabled = false
	fills := &fakeFills{notional: 600}
	h := newHarness(t, cfg, func(d *Deps) { d.Fills = fills })

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.store.Alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(h.store.Alerts))
	}
	if h.notify.Count() != 1 {
		t.Fatalf("notifications = %d, want 1", h.notify.Count())
	}

	// 继续越线，不再重复告警
	for i := 0; i < 3; i++ {
		if err := h.runner.tick(context.Background()); err != nil {
			t.Fatalf("tick %d: %v", i+2, err)
		}
	}
	if len(h.store.Alerts) != 1 || h.notify.Count() != 1 {
		t.Errorf("alerts = %d notifications = %d, want still 1/1", len(h.store.Alerts), h.notify.Count())
	}
}

func TestVolumePlanPlacesMakerThenTaker(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.MMEnabled = false
	h := newHarness(t, cfg, nil)

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.exchange.placed) < 1 {
		t.Fatal("no volume orders placed")
	}
	maker := h.exchange.placed[0]
	if !order.IsVolume(maker.ClientOrderID) || maker.Type != order.TypeLimit {
		t.Errorf("maker leg = %+v, want vol limit order", maker)
	}
	if len(h.exchange.placed) == 2 {
		taker := h.exchange.placed[1]
		if taker.Type != order.TypeMarket || taker.Side != maker.Side.Opposite() {
			t.Errorf("taker leg = %+v, want opposite market order", taker)
		}
	}
	if h.runner.lastVolTradeAt.IsZero() {
		t.Error("lastVolTradeAt not updated")
	}
	rt, _ := h.store.LastRuntime()
	if rt.LastVolClientOrderID != maker.ClientOrderID {
		t.Errorf("runtime lastVolClientOrderId = %q, want %q", rt.LastVolClientOrderID, maker.ClientOrderID)
	}
}

func TestGateDeniedVetoesPlacements(t *testing.T) {
	cfg := defaultBotConfig()
	h := newHarness(t, cfg, func(d *Deps) {
		d.Gate = &fakeGate{policy: gate.Policy{Enabled: true, MaxAgeSec: 60}, state: nil}
	})

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.exchange.placed) != 0 {
		t.Errorf("placed = %d with gate denied, want 0", len(h.exchange.placed))
	}
}

func TestGateMultiplierScalesMMQuotes(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.VolEnabled = false
	h := newHarness(t, cfg, func(d *Deps) {
		d.Gate = &fakeGate{
			policy: gate.Policy{
				Enabled: true, MaxAgeSec: 3600, MinConfidence: 0.1,
				Size: gate.SizeMultiplier{Base: 0.5, Min: 0.1, Max: 2},
			},
			state: &gate.PredictionState{Signal: "long", Confidence: 0.8, UpdatedAtMs: time.Now().UnixMilli()},
		}
	})

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.exchange.placed) != 2 {
		t.Fatalf("placed = %d, want 2", len(h.exchange.placed))
	}
	notional := h.exchange.placed[0].Price * h.exchange.placed[0].Qty
	if notional < 49 || notional > 51 {
		t.Errorf("quote notional = %v, want ~50 (100 x 0.5)", notional)
	}
}

func TestStoppedFlagCancelsAllAndExits(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.Status = "STOPPED"
	h := newHarness(t, cfg, nil)

	err := h.runner.tick(context.Background())
	if err != ErrStopped {
		t.Fatalf("tick err = %v, want ErrStopped", err)
	}
	if h.exchange.cancelAlls != 1 {
		t.Errorf("cancelAlls = %d, want 1", h.exchange.cancelAlls)
	}
	if h.runner.machine.Status() != bot.StatusStopped {
		t.Errorf("status = %v, want STOPPED", h.runner.machine.Status())
	}
}

func TestPausedSkipsTrading(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.Status = "PAUSED"
	h := newHarness(t, cfg, nil)

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(h.exchange.placed) != 0 || h.exchange.cancelAlls != 0 {
		t.Error("paused bot must not touch orders")
	}
	rt, ok := h.store.LastRuntime()
	if !ok || rt.Status != "PAUSED" {
		t.Errorf("runtime status = %+v, want PAUSED", rt)
	}
}

func TestRepriceGateHoldsWithinCooldown(t *testing.T) {
	cfg := defaultBotConfig()
	cfg.Bot.VolEnabled = false
	h := newHarness(t, cfg, nil)

	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	placedAfterFirst := len(h.exchange.placed)
	if placedAfterFirst != 2 {
		t.Fatalf("placed = %d, want 2", placedAfterFirst)
	}

	// 挂单仍在容差内、间隔未到、价格未动：不应有任何新动作
	if err := h.runner.tick(context.Background()); err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if len(h.exchange.placed) != placedAfterFirst || len(h.exchange.canceled) != 0 {
		t.Errorf("reprice happened within cooldown: placed=%d canceled=%d",
			len(h.exchange.placed), len(h.exchange.canceled))
	}
}

func TestFatalErrorCancelsAllAndSnapshots(t *testing.T) {
	h := newHarness(t, defaultBotConfig(), nil)
	h.exchange.open = []order.OpenOrder{
		{ID: "1", ClientOrderID: order.NewClientID(order.TagMakerBuy, time.Now()), Side: order.SideBuy, Price: 1.99, Qty: 1},
		{ID: "2", ClientOrderID: order.NewClientID(order.TagMakerSell, time.Now()), Side: order.SideSell, Price: 2.01, Qty: 1},
	}
	h.exchange.balancesErr = fmt.Errorf("permission denied: api key revoked")

	err := h.runner.Run(context.Background())
	if err == nil {
		t.Fatal("Run must surface the fatal error")
	}

	if h.exchange.cancelAlls != 1 {
		t.Errorf("cancelAlls = %d, want 1 (orders must not be left resting)", h.exchange.cancelAlls)
	}
	if h.runner.machine.Status() != bot.StatusError {
		t.Errorf("status = %v, want ERROR", h.runner.machine.Status())
	}
	rt, ok := h.store.LastRuntime()
	if !ok || rt.Status != "ERROR" {
		t.Errorf("runtime snapshot = %+v (ok=%v), want status ERROR", rt, ok)
	}
	if len(h.store.Alerts) != 1 || h.store.Alerts[0].Level != "error" {
		t.Errorf("alerts = %+v, want exactly one error-level alert", h.store.Alerts)
	}
	if h.notify.Count() != 1 {
		t.Errorf("notifications = %d, want 1", h.notify.Count())
	}
}
