package volume

import (
	"testing"
	"time"

	"utrade-bots-go/order"
)

func TestRollResetsOnDayBoundary(t *testing.T) {
	day1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 2, 0, 1, 0, 0, time.UTC)

	st := &State{}
	if !st.Roll(day1) {
		t.Fatal("first roll should initialize day key")
	}
	st.TradedNotional = 500
	st.DailyAlertSent = true
	st.SideStreak = 3

	if st.Roll(day1.Add(time.Minute)) {
		t.Fatal("same day must not roll")
	}
	if st.Roll(day1.Add(11*time.Hour + 59*time.Minute)) {
		t.Fatal("23:59 same day must not roll")
	}
	if !st.Roll(day2) {
		t.Fatal("crossing UTC midnight must roll")
	}
	if st.TradedNotional != 0 || st.DailyAlertSent || st.SideStreak != 0 {
		t.Fatalf("state not reset: %+v", st)
	}
	if st.DayKey != "2024-03-02" {
		t.Fatalf("dayKey = %s", st.DayKey)
	}
}

func TestRecordTradeStreak(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	st := &State{}

	st.RecordTrade(order.SideBuy, now)
	st.RecordTrade(order.SideBuy, now)
	if st.SideStreak != 2 || st.LastSide != order.SideBuy {
		t.Fatalf("state = %+v", st)
	}
	st.RecordTrade(order.SideSell, now)
	if st.SideStreak != 1 || st.LastSide != order.SideSell {
		t.Fatalf("state = %+v", st)
	}
	if st.LastActionMs != now.UnixMilli() {
		t.Fatal("LastActionMs not updated")
	}
}

// 跨过阈值只告警一次
func TestShouldDailyAlertFiresOnce(t *testing.T) {
	st := &State{TradedNotional: 999}
	if st.ShouldDailyAlert(1000) {
		t.Fatal("below target, no alert")
	}
	st.TradedNotional = 1000
	if !st.ShouldDailyAlert(1000) {
		t.Fatal("at target, alert due")
	}
	st.DailyAlertSent = true
	if st.ShouldDailyAlert(1000) {
		t.Fatal("already sent, must not repeat")
	}
	if st.ShouldDailyAlert(0) {
		t.Fatal("zero target disables alert")
	}
}
