package store

import (
	"context"
	"time"
)

// Bot 持久层的机器人记录。Status 与两个策略开关由管理端写入，
// 循环每 tick 重新读取。
type Bot struct {
	ID         int64
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Status     string
	MMEnabled  bool
	VolEnabled bool
	TickMs     int64
}

// MMConfig 做市参数。
type MMConfig struct {
	SpreadPct         float64 // 全价差（比例）
	QuoteNotionalUsdt float64 // 单侧报价名义
	InvBudgetUsdt     float64 // 库存预算，library ratio 的分母
	InvAlpha          float64 // 库存比平滑系数
}

// VolConfig 刷量参数。
type VolConfig struct {
	Mode              string
	MinTradeUsdt      float64
	MaxTradeUsdt      float64
	DailyNotionalUsdt float64
	MinIntervalMs     int64
	SafetyMult        float64
}

// RiskConfig 风控阈值。
type RiskConfig struct {
	MaxOpenOrders       int
	MinQuoteBalance     float64
	MaxBaseExposureUsdt float64
}

// BotConfig 一次加载返回的完整配置快照（config epoch）。
// 下游组件从快照整体重建，从不原地修改。
type BotConfig struct {
	Bot  Bot
	MM   MMConfig
	Vol  VolConfig
	Risk RiskConfig
}

// RuntimeState 每 tick 投影出的运行时快照，只写不读。
type RuntimeState struct {
	BotID                int64
	Status               string
	Reason               string
	OpenOrders           int
	OpenOrdersMM         int
	OpenOrdersVol        int
	LastVolClientOrderID string
	Mid                  float64
	Bid                  float64
	Ask                  float64
	FreeBase             float64
	FreeUsdt             float64
	TradedNotionalToday  float64
	UpdatedAt            time.Time
}

// Alert 结构化告警记录。
type Alert struct {
	BotID   int64
	Level   string // "info" / "warn" / "error"
	Title   string
	Message string
}

// OrderMap 订单归属映射，供成交同步把交易所订单关联回策略。
type OrderMap struct {
	BotID         int64
	Symbol        string
	OrderID       string
	ClientOrderID string
}

// Store 持久化协作方。WriteRuntime/WriteAlert 是尽力而为的遥测，
// 失败由调用方记录日志后继续。
type Store interface {
	LoadBotConfig(ctx context.Context, botID int64) (BotConfig, error)
	UpdateBotFlags(ctx context.Context, botID int64, mmEnabled, volEnabled bool) error
	WriteRuntime(ctx context.Context, rt RuntimeState) error
	WriteAlert(ctx context.Context, a Alert) error
	UpsertOrderMap(ctx context.Context, m OrderMap) error
}
