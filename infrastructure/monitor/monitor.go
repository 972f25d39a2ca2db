package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
type Monitor struct {
	registry *prometheus.Registry

	// tick 循环指标
	ticksTotal   prometheus.Counter
	tickErrors   *prometheus.CounterVec
	tickDuration prometheus.Histogram

	// 订单指标
	ordersPlaced   *prometheus.CounterVec // kind: mm/vol
	ordersCanceled *prometheus.CounterVec
	openOrders     prometheus.Gauge

	// 刷量指标
	volTrades        prometheus.Counter
	volNotionalToday prometheus.Gauge
	volSweeps        prometheus.Counter

	// 市场指标
	midPrice prometheus.Gauge
	bidPrice prometheus.Gauge
	askPrice prometheus.Gauge

	// 风控指标
	riskHalts   prometheus.Counter
	botStatus   prometheus.Gauge
	invRatio    prometheus.Gauge
	freeBase    prometheus.Gauge
	freeQuote   prometheus.Gauge

	// 预测闸门指标
	gateAllowed prometheus.Counter
	gateDenied  *prometheus.CounterVec // reason
	gateSizeMul prometheus.Gauge
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "utrade",
		Subsystem: "bot",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Monitor{
		registry: reg,

		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ticks_total",
			Help:      "主循环tick总数",
		}),
		tickErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "tick_errors_total",
				Help:      "tick内错误总数",
			},
			[]string{"class"},
		),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "tick_duration_seconds",
			Help:      "tick耗时分布（秒）",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
		}),

		ordersPlaced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "orders_placed_total",
				Help:      "订单下单总数",
			},
			[]string{"kind"},
		),
		ordersCanceled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "orders_canceled_total",
				Help:      "订单撤单总数",
			},
			[]string{"kind"},
		),
		openOrders: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "open_orders",
			Help:      "当前挂单数",
		}),

		volTrades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "vol_trades_total",
			Help:      "刷量成交笔数",
		}),
		volNotionalToday: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "vol_notional_today",
			Help:      "当日累计刷量成交额",
		}),
		volSweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "vol_sweeps_total",
			Help:      "过期刷量单清扫撤单数",
		}),

		midPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "mid_price",
			Help:      "当前中间价",
		}),
		bidPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bid_price",
			Help:      "当前买一价",
		}),
		askPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "ask_price",
			Help:      "当前卖一价",
		}),

		riskHalts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "risk_halts_total",
			Help:      "风控熔断触发次数",
		}),
		botStatus: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "bot_status",
			Help:      "机器人状态(0=RUNNING,1=PAUSED,2=STOPPED,3=ERROR)",
		}),
		invRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "inventory_ratio",
			Help:      "库存比例(0..1)",
		}),
		freeBase: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "free_base",
			Help:      "基础资产可用余额",
		}),
		freeQuote: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "free_quote",
			Help:      "计价资产可用余额",
		}),

		gateAllowed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "gate_allowed_total",
			Help:      "预测闸门放行次数",
		}),
		gateDenied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "gate_denied_total",
				Help:      "预测闸门拦截次数",
			},
			[]string{"reason"},
		),
		gateSizeMul: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "gate_size_multiplier",
			Help:      "最近一次闸门放行的规模乘数",
		}),
	}

	return m
}

// tick 相关方法
func (m *Monitor) RecordTick() {
	m.ticksTotal.Inc()
}

func (m *Monitor) RecordTickError(class string) {
	m.tickErrors.WithLabelValues(class).Inc()
}

func (m *Monitor) RecordTickDuration(seconds float64) {
	m.tickDuration.Observe(seconds)
}

// 订单相关方法
func (m *Monitor) RecordOrderPlaced(kind string) {
	m.ordersPlaced.WithLabelValues(kind).Inc()
}

func (m *Monitor) RecordOrderCanceled(kind string) {
	m.ordersCanceled.WithLabelValues(kind).Inc()
}

func (m *Monitor) UpdateOpenOrders(n int) {
	m.openOrders.Set(float64(n))
}

// 刷量相关方法
func (m *Monitor) RecordVolTrade() {
	m.volTrades.Inc()
}

func (m *Monitor) UpdateVolNotionalToday(value float64) {
	m.volNotionalToday.Set(value)
}

func (m *Monitor) RecordVolSweep(n int) {
	m.volSweeps.Add(float64(n))
}

// 市场相关方法
func (m *Monitor) UpdateMidPrice(value float64) {
	m.midPrice.Set(value)
}

func (m *Monitor) UpdateBidAsk(bid, ask float64) {
	m.bidPrice.Set(bid)
	m.askPrice.Set(ask)
}

// 风控与账户相关方法
func (m *Monitor) RecordRiskHalt() {
	m.riskHalts.Inc()
}

func (m *Monitor) UpdateBotStatus(status int) {
	m.botStatus.Set(float64(status))
}

func (m *Monitor) UpdateInventoryRatio(value float64) {
	m.invRatio.Set(value)
}

func (m *Monitor) UpdateBalances(freeBase, freeQuote float64) {
	m.freeBase.Set(freeBase)
	m.freeQuote.Set(freeQuote)
}

// 闸门相关方法
func (m *Monitor) RecordGateAllowed(sizeMultiplier float64) {
	m.gateAllowed.Inc()
	m.gateSizeMul.Set(sizeMultiplier)
}

func (m *Monitor) RecordGateDenied(reason string) {
	m.gateDenied.WithLabelValues(reason).Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
