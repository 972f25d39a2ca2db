package order

import (
	"strconv"
	"strings"
	"time"
)

// 策略标签前缀。clientOrderId = 前缀 + 毫秒时间戳，用于订单归属判定与
// TTL 检查；同一进程内通过时间戳保证不重复。
const (
	TagMakerBuy  = "mmb"
	TagMakerSell = "mms"
	TagVolume    = "vol"
)

// NewClientID 生成带策略前缀的 clientOrderId。
func NewClientID(tag string, now time.Time) string {
	return tag + strconv.FormatInt(now.UnixMilli(), 10)
}

// Tag 返回 clientOrderId 的策略前缀；无法识别时返回空串。
func Tag(clientID string) string {
	for _, t := range []string{TagMakerBuy, TagMakerSell, TagVolume} {
		if strings.HasPrefix(clientID, t) {
			return t
		}
	}
	return ""
}

// IsMarketMaking 判断是否做市单（mmb/mms）。
func IsMarketMaking(clientID string) bool {
	t := Tag(clientID)
	return t == TagMakerBuy || t == TagMakerSell
}

// IsVolume 判断是否刷量单（vol）。
func IsVolume(clientID string) bool {
	return Tag(clientID) == TagVolume
}

// Timestamp 解析 clientOrderId 中的毫秒时间戳；解析失败返回 false。
func Timestamp(clientID string) (int64, bool) {
	t := Tag(clientID)
	if t == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(clientID[len(t):], 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return ms, true
}

// OlderThan 判断 vol 单是否超过 ttl；非 vol 单或无法解析时间戳时返回 false，
// 避免误杀做市单或第三方挂单。
func OlderThan(clientID string, now time.Time, ttl time.Duration) bool {
	if !IsVolume(clientID) {
		return false
	}
	ms, ok := Timestamp(clientID)
	if !ok {
		return false
	}
	return now.UnixMilli()-ms > ttl.Milliseconds()
}
