package runner

import (
	"context"
	"math"
	"strconv"
	"time"

	"utrade-bots-go/bot"
	"utrade-bots-go/gate"
	"utrade-bots-go/gateway"
	"utrade-bots-go/infrastructure/logger"
	"utrade-bots-go/inventory"
	"utrade-bots-go/market"
	"utrade-bots-go/order"
	"utrade-bots-go/risk"
	"utrade-bots-go/store"
	"utrade-bots-go/strategy"
	"utrade-bots-go/volume"
)

// reasonMarketData 行情无效时写入运行时快照的原因。
const reasonMarketData = "Market data unavailable"

// tick 执行一轮完整决策。返回 ErrStopped 表示控制停止，
// 返回其他 error 表示致命；瞬时错误在内部消化。
func (r *Runner) tick(ctx context.Context) error {
	r.deps.Monitor.RecordTick()
	log := r.deps.Log.ForBot(r.botID, r.symbol)
	now := r.now()

	// 每 tick 重读控制开关（暂停/停止必须及时生效）；
	// 完整配置快照按周期整体重建，风控与调度器随之换代
	if cfg, err := r.deps.Store.LoadBotConfig(ctx, r.botID); err != nil {
		r.deps.Monitor.RecordTickError(ClassTransient)
		log.LogError(err, map[string]interface{}{"stage": "config_reload"})
	} else if now.Sub(r.lastConfigAt) >= time.Duration(r.tuning.ConfigEveryMs)*time.Millisecond {
		r.lastConfigAt = now
		r.applyConfig(cfg)
	} else {
		r.cfg.Bot.Status = cfg.Bot.Status
		r.cfg.Bot.MMEnabled = cfg.Bot.MMEnabled
		r.cfg.Bot.VolEnabled = cfg.Bot.VolEnabled
	}

	// 控制开关：每 tick 顶部解码一次，穷举处理
	switch status := bot.ParseStatus(r.cfg.Bot.Status); status {
	case bot.StatusStopped, bot.StatusError:
		if err := r.deps.Exchange.CancelAll(ctx, r.symbol); err != nil {
			log.LogError(err, map[string]interface{}{"stage": "stop_cancel_all"})
		}
		r.machine.Set(bot.StatusStopped, "stopped by control flag")
		r.deps.Monitor.UpdateBotStatus(int(bot.StatusStopped))
		return ErrStopped
	case bot.StatusPaused:
		if r.machine.Status() != bot.StatusPaused {
			r.machine.Set(bot.StatusPaused, "paused by control flag")
		}
		r.deps.Monitor.UpdateBotStatus(int(bot.StatusPaused))
		r.writeRuntime(ctx, market.Snapshot{}, 0, 0, 0, 0, 0)
		return nil
	default:
		if r.machine.Status() != bot.StatusRunning {
			r.machine.Set(bot.StatusRunning, "")
		}
		r.deps.Monitor.UpdateBotStatus(int(bot.StatusRunning))
	}

	// 行情：无效快照挂起本 tick 的一切下发
	snap, err := r.deps.Price.Snapshot(ctx)
	if err != nil || !snap.Valid() {
		if err != nil {
			log.LogError(err, map[string]interface{}{"stage": "price"})
		}
		r.deps.Monitor.RecordTickError(ClassInvalidData)
		r.machine.Set(bot.StatusRunning, reasonMarketData)
		r.writeRuntime(ctx, market.Snapshot{}, 0, 0, 0, 0, 0)
		return nil
	}
	r.deps.Monitor.UpdateMidPrice(snap.Mid)
	r.deps.Monitor.UpdateBidAsk(snap.Bid, snap.Ask)
	if r.machine.Reason() == reasonMarketData {
		r.machine.Set(bot.StatusRunning, "")
	}

	// 账户与挂单：三者无顺序依赖，失败按瞬时处理等下一 tick
	balances, err := r.deps.Exchange.GetBalances(ctx)
	if err != nil {
		return r.absorbTransient(err, "balances", log)
	}
	open, err := r.deps.Exchange.GetOpenOrders(ctx, r.symbol)
	if err != nil {
		return r.absorbTransient(err, "open_orders", log)
	}
	freeBase, lockedBase := assetBalance(balances, r.cfg.Bot.BaseAsset)
	freeQuote, _ := assetBalance(balances, r.cfg.Bot.QuoteAsset)
	r.deps.Monitor.UpdateBalances(freeBase, freeQuote)
	r.deps.Monitor.UpdateOpenOrders(len(open))

	// 风控：拒绝即全撤并熔断
	if dec := r.riskEng.Evaluate(risk.Input{Balances: balances, Mid: snap.Mid, OpenOrders: len(open)}); !dec.OK {
		return r.haltTrading(ctx, dec.Reason, snap, freeBase, freeQuote, log)
	}

	// 成交同步：失败只记日志，不阻塞本 tick
	if r.deps.Fills != nil && now.Sub(r.lastFillsAt) >= time.Duration(r.tuning.FillsEveryMs)*time.Millisecond {
		r.lastFillsAt = now
		if notional, err := r.deps.Fills.Sync(ctx); err != nil {
			log.LogError(err, map[string]interface{}{"stage": "fills_sync"})
		} else {
			r.volState.Roll(now)
			r.volState.TradedNotional = notional
			r.deps.Monitor.UpdateVolNotionalToday(notional)
		}
	}

	// 当日目标达成的一次性告警
	if r.volState.ShouldDailyAlert(r.cfg.Vol.DailyNotionalUsdt) {
		r.volState.DailyAlertSent = true
		if err := r.deps.Store.WriteAlert(ctx, store.Alert{
			BotID: r.botID, Level: "info", Title: "daily volume target reached",
			Message: volAlertMessage(r.volState.TradedNotional, r.cfg.Vol.DailyNotionalUsdt),
		}); err != nil {
			log.LogError(err, map[string]interface{}{"stage": "daily_alert"})
		}
		r.deps.Alerts.Info(r.botID, "daily volume target reached",
			volAlertMessage(r.volState.TradedNotional, r.cfg.Vol.DailyNotionalUsdt), nil)
	}

	// 过期刷量单清扫，每 tick 一轮；撤掉的单不再参与后续决策
	open = r.sweepStaleVol(ctx, open, log)

	// 预测闸门：每 tick 评估一次，拒绝即否决本 tick 的新下发
	sizeMul, gateAllow := r.evaluateGate(log)

	mmOpen := filterMM(open)

	// 做市对账
	if r.cfg.Bot.MMEnabled && gateAllow {
		r.reconcileMM(ctx, snap, mmOpen, freeBase, lockedBase, sizeMul, log)
	} else if len(mmOpen) > 0 && !r.cfg.Bot.MMEnabled {
		// 开关关闭：撤回余留的做市挂单
		for _, oo := range mmOpen {
			if err := r.deps.Exchange.CancelOrder(ctx, r.symbol, oo.ID); err != nil {
				log.LogError(err, map[string]interface{}{"stage": "mm_withdraw", "order_id": oo.ID})
			} else {
				r.deps.Monitor.RecordOrderCanceled("mm")
			}
		}
	}

	// 刷量调度
	if r.cfg.Bot.VolEnabled && gateAllow {
		env := volume.Env{
			Snapshot:  snap,
			FreeBase:  freeBase,
			FreeUsdt:  freeQuote,
			MMEnabled: r.cfg.Bot.MMEnabled,
		}
		if plan := r.scheduler.MaybeTrade(env, &r.volState); plan != nil {
			r.executeVolPlan(ctx, plan, log)
		}
	}

	r.writeRuntime(ctx, snap, len(open), len(mmOpen), countVol(open), freeBase, freeQuote)
	return nil
}

// absorbTransient 把瞬时错误消化在 tick 内，其余上抛为致命。
func (r *Runner) absorbTransient(err error, stage string, log *logger.Logger) error {
	class := Classify(err)
	r.deps.Monitor.RecordTickError(class)
	log.LogError(err, map[string]interface{}{"stage": stage, "class": class})
	if class == ClassTransient {
		return nil
	}
	return err
}

// haltTrading 风控熔断。顺序固定：全撤 → 记录原因（仍为 RUNNING，
// 风控是节流不是终止）→ 关两个策略开关 → 落库告警 → 人向通知。
// 顺序颠倒会在开关已关、挂单未撤时留下孤儿敞口。
func (r *Runner) haltTrading(ctx context.Context, reason string, snap market.Snapshot, freeBase, freeQuote float64, log *logger.Logger) error {
	r.deps.Monitor.RecordRiskHalt()
	r.deps.Monitor.RecordTickError(ClassRisk)
	log.LogRisk("risk_halt", map[string]interface{}{"reason": reason})

	if err := r.deps.Exchange.CancelAll(ctx, r.symbol); err != nil {
		log.LogError(err, map[string]interface{}{"stage": "halt_cancel_all"})
	}
	r.machine.Set(bot.StatusRunning, reason)

	if err := r.deps.Store.UpdateBotFlags(ctx, r.botID, false, false); err != nil {
		log.LogError(err, map[string]interface{}{"stage": "halt_disable_flags"})
	}
	r.cfg.Bot.MMEnabled = false
	r.cfg.Bot.VolEnabled = false

	if err := r.deps.Store.WriteAlert(ctx, store.Alert{
		BotID: r.botID, Level: "warn", Title: "risk halt", Message: reason,
	}); err != nil {
		log.LogError(err, map[string]interface{}{"stage": "halt_write_alert"})
	}
	r.deps.Alerts.Warning(r.botID, "risk halt", reason, map[string]interface{}{"symbol": r.symbol})

	r.writeRuntime(ctx, snap, 0, 0, 0, freeBase, freeQuote)
	return nil
}

// sweepStaleVol 撤掉超过 TTL 的刷量挂单，返回剩余挂单。
func (r *Runner) sweepStaleVol(ctx context.Context, open []order.OpenOrder, log *logger.Logger) []order.OpenOrder {
	ttl := r.scheduler.TTL()
	now := r.now()
	kept := open[:0]
	swept := 0
	for _, oo := range open {
		if !order.OlderThan(oo.ClientOrderID, now, ttl) {
			kept = append(kept, oo)
			continue
		}
		if err := r.deps.Exchange.CancelOrder(ctx, r.symbol, oo.ID); err != nil {
			// 撤单失败不重试，下一 tick 仍在挂单列表里会再次命中
			log.LogError(err, map[string]interface{}{"stage": "vol_sweep", "order_id": oo.ID})
			kept = append(kept, oo)
			continue
		}
		swept++
		r.deps.Monitor.RecordOrderCanceled("vol")
		log.LogVolume("vol_sweep", map[string]interface{}{"order_id": oo.ID, "client_order_id": oo.ClientOrderID})
	}
	if swept > 0 {
		r.deps.Monitor.RecordVolSweep(swept)
	}
	return kept
}

// evaluateGate 评估预测闸门。未接入或策略关闭时放行且乘数为 1。
func (r *Runner) evaluateGate(log *logger.Logger) (float64, bool) {
	if r.deps.Gate == nil {
		return 1, true
	}
	policy, state, err := r.deps.Gate.Load()
	if err != nil {
		// 策略读不到按放行降级处理，闸门是叠加层不是主干
		log.LogError(err, map[string]interface{}{"stage": "gate_load"})
		return 1, true
	}
	if !policy.Enabled {
		return 1, true
	}
	res := gate.Evaluate(policy, state, r.now())
	r.gateStats.Record(res)
	if !res.Allow {
		r.deps.Monitor.RecordGateDenied(res.Reason)
		log.LogGate("gate_denied", map[string]interface{}{"reason": res.Reason})
		return 0, false
	}
	r.deps.Monitor.RecordGateAllowed(res.SizeMultiplier)
	return res.SizeMultiplier, true
}

// reconcileMM 做市对账：重报价门通过时重算目标报价并 diff 收敛。
// 同一 tick 内有撤单就不挂新单，避免新旧挂单短暂共存放大敞口。
func (r *Runner) reconcileMM(ctx context.Context, snap market.Snapshot, mmOpen []order.OpenOrder, freeBase, lockedBase, sizeMul float64, log *logger.Logger) {
	if !r.shouldReprice(snap, len(mmOpen)) {
		return
	}

	invRatio := r.smoother.Update(inventory.Ratio(freeBase, lockedBase, snap.Mid, r.cfg.MM.InvBudgetUsdt))
	r.deps.Monitor.UpdateInventoryRatio(invRatio)

	quotes, err := r.deps.Quoter.GenerateQuotes(strategy.Input{
		Snapshot: snap,
		InvRatio: invRatio,
		SizeMul:  sizeMul,
	})
	if err != nil {
		log.LogError(err, map[string]interface{}{"stage": "quoting"})
		return
	}

	plan := order.Diff(quotes, mmOpen, order.Tolerance{
		PriceEpsPct: r.tuning.PriceEpsPct,
		QtyEpsPct:   r.tuning.QtyEpsPct,
	})
	if plan.Empty() {
		return
	}

	for _, oo := range plan.Cancel {
		if err := r.deps.Exchange.CancelOrder(ctx, r.symbol, oo.ID); err != nil {
			log.LogError(err, map[string]interface{}{"stage": "mm_cancel", "order_id": oo.ID})
			continue
		}
		r.deps.Monitor.RecordOrderCanceled("mm")
	}
	if len(plan.Cancel) == 0 {
		for _, q := range plan.Place {
			id, err := r.deps.Exchange.PlaceOrder(ctx, q)
			if err != nil {
				log.LogError(err, map[string]interface{}{"stage": "mm_place", "client_order_id": q.ClientOrderID})
				continue
			}
			r.deps.Monitor.RecordOrderPlaced("mm")
			if err := r.deps.Store.UpsertOrderMap(ctx, store.OrderMap{
				BotID: r.botID, Symbol: r.symbol, OrderID: id, ClientOrderID: q.ClientOrderID,
			}); err != nil {
				log.LogError(err, map[string]interface{}{"stage": "order_map", "order_id": id})
			}
			log.LogQuote("mm_place", map[string]interface{}{
				"order_id": id, "side": string(q.Side), "price": q.Price, "qty": q.Qty,
			})
		}
	}

	r.lastRepriceAt = r.now()
	r.lastRepriceMid = snap.Mid
}

// shouldReprice 重报价门：(a) 无做市挂单；(b) 最小间隔与刷量冷却都已过；
// (c) 价格相对上次重报价偏移超阈且刷量冷却已过。
func (r *Runner) shouldReprice(snap market.Snapshot, mmOpenCount int) bool {
	if mmOpenCount == 0 {
		return true
	}
	now := r.now()
	coolOK := r.lastVolTradeAt.IsZero() ||
		now.Sub(r.lastVolTradeAt) >= time.Duration(r.tuning.VolCooldownMs)*time.Millisecond
	if !coolOK {
		return false
	}
	if r.lastRepriceAt.IsZero() ||
		now.Sub(r.lastRepriceAt) >= time.Duration(r.tuning.MinRepriceMs)*time.Millisecond {
		return true
	}
	if r.lastRepriceMid > 0 &&
		math.Abs(snap.Mid-r.lastRepriceMid)/r.lastRepriceMid > r.tuning.MinRepricePct {
		return true
	}
	return false
}

// executeVolPlan 下发刷量计划：maker 腿先行，成功后才尝试 taker 腿。
// taker 腿失败是已接受的风险：记日志跳过，留下的单边敞口靠 TTL 清扫兜底。
func (r *Runner) executeVolPlan(ctx context.Context, plan *volume.Plan, log *logger.Logger) {
	makerID, err := r.deps.Exchange.PlaceOrder(ctx, plan.Maker)
	if err != nil {
		log.LogError(err, map[string]interface{}{"stage": "vol_maker", "client_order_id": plan.Maker.ClientOrderID})
		return
	}
	now := r.now()
	r.volState.RecordTrade(plan.Maker.Side, now)
	r.lastVolTradeAt = now
	r.lastVolClientID = plan.Maker.ClientOrderID
	r.deps.Monitor.RecordVolTrade()
	r.deps.Monitor.RecordOrderPlaced("vol")
	if err := r.deps.Store.UpsertOrderMap(ctx, store.OrderMap{
		BotID: r.botID, Symbol: r.symbol, OrderID: makerID, ClientOrderID: plan.Maker.ClientOrderID,
	}); err != nil {
		log.LogError(err, map[string]interface{}{"stage": "order_map", "order_id": makerID})
	}
	log.LogVolume("vol_maker", map[string]interface{}{
		"order_id": makerID, "side": string(plan.Maker.Side), "price": plan.Maker.Price, "qty": plan.Maker.Qty,
	})

	if plan.Taker == nil {
		return
	}
	takerID, err := r.deps.Exchange.PlaceOrder(ctx, *plan.Taker)
	if err != nil {
		log.LogError(err, map[string]interface{}{"stage": "vol_taker", "client_order_id": plan.Taker.ClientOrderID})
		return
	}
	r.deps.Monitor.RecordOrderPlaced("vol")
	if err := r.deps.Store.UpsertOrderMap(ctx, store.OrderMap{
		BotID: r.botID, Symbol: r.symbol, OrderID: takerID, ClientOrderID: plan.Taker.ClientOrderID,
	}); err != nil {
		log.LogError(err, map[string]interface{}{"stage": "order_map", "order_id": takerID})
	}
	log.LogVolume("vol_taker", map[string]interface{}{
		"order_id": takerID, "side": string(plan.Taker.Side), "qty": plan.Taker.Qty,
	})
}

// writeRuntime 投影运行时快照。写失败只记日志，循环不依赖读回。
func (r *Runner) writeRuntime(ctx context.Context, snap market.Snapshot, openAll, openMM, openVol int, freeBase, freeQuote float64) {
	rt := store.RuntimeState{
		BotID:                r.botID,
		Status:               r.machine.Status().String(),
		Reason:               r.machine.Reason(),
		OpenOrders:           openAll,
		OpenOrdersMM:         openMM,
		OpenOrdersVol:        openVol,
		LastVolClientOrderID: r.lastVolClientID,
		Mid:                  snap.Mid,
		Bid:                  snap.Bid,
		Ask:                  snap.Ask,
		FreeBase:             freeBase,
		FreeUsdt:             freeQuote,
		TradedNotionalToday:  r.volState.TradedNotional,
		UpdatedAt:            r.now(),
	}
	if err := r.deps.Store.WriteRuntime(ctx, rt); err != nil {
		r.deps.Log.ForBot(r.botID, r.symbol).LogError(err, map[string]interface{}{"stage": "write_runtime"})
	}
}

func assetBalance(balances []gateway.Balance, asset string) (free, locked float64) {
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free, b.Locked
		}
	}
	return 0, 0
}

func filterMM(open []order.OpenOrder) []order.OpenOrder {
	out := make([]order.OpenOrder, 0, len(open))
	for _, oo := range open {
		if order.IsMarketMaking(oo.ClientOrderID) {
			out = append(out, oo)
		}
	}
	return out
}

func countVol(open []order.OpenOrder) int {
	n := 0
	for _, oo := range open {
		if order.IsVolume(oo.ClientOrderID) {
			n++
		}
	}
	return n
}

func volAlertMessage(traded, target float64) string {
	return "traded notional " + formatUsdt(traded) + " reached daily target " + formatUsdt(target)
}

func formatUsdt(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + " USDT"
}
