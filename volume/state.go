package volume

import (
	"time"

	"utrade-bots-go/order"
)

// State 刷量策略的进程内状态。只被调度器与成交聚合方修改，
// 随进程消亡；对外只通过运行时快照投影。
type State struct {
	DayKey         string
	TradedNotional float64 // 当日已成交名义（USDT），由 fills 同步刷新
	LastActionMs   int64
	DailyAlertSent bool
	LastSide       order.Side
	SideStreak     int
}

// DayKeyFor 返回 UTC 日期串，作为日界键。
func DayKeyFor(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Roll 检查日界；跨日时重置当日累计并返回 true。
func (s *State) Roll(now time.Time) bool {
	key := DayKeyFor(now)
	if key == s.DayKey {
		return false
	}
	s.DayKey = key
	s.TradedNotional = 0
	s.DailyAlertSent = false
	s.SideStreak = 0
	return true
}

// RecordTrade 记录一次成功下发的刷量单，维护方向连击计数。
func (s *State) RecordTrade(side order.Side, now time.Time) {
	if side == s.LastSide {
		s.SideStreak++
	} else {
		s.LastSide = side
		s.SideStreak = 1
	}
	s.LastActionMs = now.UnixMilli()
}

// ShouldDailyAlert 判断是否需要发送一次性的当日目标达成告警。
// 调用方在发送后必须置位 DailyAlertSent，防止重复。
func (s *State) ShouldDailyAlert(targetUsdt float64) bool {
	return targetUsdt > 0 && s.TradedNotional >= targetUsdt && !s.DailyAlertSent
}
