// Package runner 驱动单个机器人的主循环：每 tick 读控制开关、
// 拉行情与账户、过风控，然后做市对账与刷量调度，最后投影运行时快照。
// 一个机器人一个循环，互不共享可变状态。
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"utrade-bots-go/bot"
	"utrade-bots-go/config"
	"utrade-bots-go/gate"
	"utrade-bots-go/gateway"
	"utrade-bots-go/infrastructure/logger"
	"utrade-bots-go/infrastructure/monitor"
	"utrade-bots-go/inventory"
	"utrade-bots-go/market"
	"utrade-bots-go/risk"
	"utrade-bots-go/store"
	"utrade-bots-go/strategy"
	"utrade-bots-go/volume"
)

// ErrStopped 控制开关要求停止，循环正常退出。
var ErrStopped = errors.New("bot stopped by control flag")

// PriceSource 行情入口。
type PriceSource interface {
	Snapshot(ctx context.Context) (market.Snapshot, error)
}

// FillsSyncer 成交同步入口，返回当日刷量成交额。
type FillsSyncer interface {
	Sync(ctx context.Context) (float64, error)
}

// GateSource 预测闸门的策略与信号来源。
type GateSource interface {
	Load() (gate.Policy, *gate.PredictionState, error)
}

// Notifier 人向告警通道，alert.Manager 满足该接口。
type Notifier interface {
	Info(botID int64, title, message string, fields map[string]interface{}) error
	Warning(botID int64, title, message string, fields map[string]interface{}) error
	Critical(botID int64, title, message string, fields map[string]interface{}) error
}

// Deps 循环依赖的外部协作方。Fills 与 Gate 可为 nil（功能关闭）。
type Deps struct {
	Exchange gateway.Exchange
	Store    store.Store
	Price    PriceSource
	Quoter   strategy.Quoter
	Fills    FillsSyncer
	Gate     GateSource
	Alerts   Notifier
	Monitor  *monitor.Monitor
	Log      *logger.Logger
}

// Runner 单机器人主循环。
type Runner struct {
	botID  int64
	symbol string
	deps   Deps
	tuning config.TuningConfig

	cfg       store.BotConfig
	machine   *bot.Machine
	riskEng   *risk.Engine
	scheduler *volume.Scheduler
	smoother  *inventory.Smoother
	gateStats *gate.Metrics
	rng       *rand.Rand

	// 循环工作变量，只被本循环触碰
	volState      volume.State
	lastRepriceAt time.Time
	lastRepriceMid float64
	lastVolTradeAt time.Time
	lastVolClientID string
	lastConfigAt  time.Time
	lastFillsAt   time.Time

	now func() time.Time
}

// New 创建循环。rng 为 nil 时使用时间种子。
func New(botID int64, tuning config.TuningConfig, deps Deps, rng *rand.Rand) *Runner {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Runner{
		botID:     botID,
		deps:      deps,
		tuning:    tuning,
		machine:   bot.NewMachine(),
		smoother:  inventory.NewSmoother(tuning.InvAlpha),
		gateStats: &gate.Metrics{},
		rng:       rng,
		now:       time.Now,
	}
}

// applyConfig 采用新的配置快照，风控引擎与调度器整体重建。
func (r *Runner) applyConfig(cfg store.BotConfig) {
	r.cfg = cfg
	r.symbol = cfg.Bot.Symbol
	r.riskEng = risk.NewEngine(risk.Limits{
		MaxOpenOrders:       cfg.Risk.MaxOpenOrders,
		MinQuoteBalance:     cfg.Risk.MinQuoteBalance,
		MaxBaseExposureUsdt: cfg.Risk.MaxBaseExposureUsdt,
	}, cfg.Bot.BaseAsset, cfg.Bot.QuoteAsset)
	r.scheduler = volume.NewScheduler(cfg.Bot.Symbol, volume.Config{
		Mode:              volume.Mode(cfg.Vol.Mode),
		MinTradeUsdt:      cfg.Vol.MinTradeUsdt,
		MaxTradeUsdt:      cfg.Vol.MaxTradeUsdt,
		DailyNotionalUsdt: cfg.Vol.DailyNotionalUsdt,
		MinIntervalMs:     cfg.Vol.MinIntervalMs,
		MMSpreadPct:       cfg.MM.SpreadPct,
		SafetyMult:        r.tuning.SafetyMult * cfg.Vol.SafetyMult,
		TTLActive:         time.Duration(r.tuning.VolTTLActiveMs) * time.Millisecond,
	}, r.rng)
}

// Run 加载配置并驱动循环，直到 ctx 取消、控制停止或致命错误。
func (r *Runner) Run(ctx context.Context) error {
	cfg, err := r.deps.Store.LoadBotConfig(ctx, r.botID)
	if err != nil {
		return fmt.Errorf("load bot config: %w", err)
	}
	r.applyConfig(cfg)
	r.lastConfigAt = r.now()

	tickEvery := time.Duration(r.cfg.Bot.TickMs) * time.Millisecond
	if tickEvery <= 0 {
		tickEvery = 2 * time.Second
	}

	log := r.deps.Log.ForBot(r.botID, r.symbol)
	log.LogEvent("loop_start", map[string]interface{}{"tick_ms": tickEvery.Milliseconds()})

	for {
		start := r.now()
		err := r.tick(ctx)
		r.deps.Monitor.RecordTickDuration(r.now().Sub(start).Seconds())

		switch {
		case errors.Is(err, ErrStopped):
			log.LogEvent("loop_stop", map[string]interface{}{"reason": r.machine.Reason()})
			return nil
		case err != nil:
			// 致命错误：尽力全撤后置 ERROR，落快照与告警再退出，
			// 由进程管理器决定重启。进程退出后没人盯挂单，
			// 不撤会留下无人看管的敞口
			if cerr := r.deps.Exchange.CancelAll(ctx, r.symbol); cerr != nil {
				log.LogError(cerr, map[string]interface{}{"stage": "fatal_cancel_all"})
			}
			r.machine.Set(bot.StatusError, err.Error())
			r.deps.Monitor.UpdateBotStatus(int(bot.StatusError))
			r.writeRuntime(ctx, market.Snapshot{}, 0, 0, 0, 0, 0)
			log.LogError(err, map[string]interface{}{"stage": "tick_fatal"})
			if werr := r.deps.Store.WriteAlert(ctx, store.Alert{
				BotID: r.botID, Level: "error", Title: "bot fatal error", Message: err.Error(),
			}); werr != nil {
				log.LogError(werr, map[string]interface{}{"stage": "write_alert"})
			}
			r.deps.Alerts.Critical(r.botID, "bot fatal error", err.Error(), nil)
			return err
		}

		// tick 预算内剩余时间为睡眠额度，超时 tick 立即进入下一轮
		elapsed := r.now().Sub(start)
		sleep := tickEvery - elapsed
		if sleep <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}
