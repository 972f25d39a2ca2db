package runner

import (
	"context"
	"errors"

	"utrade-bots-go/gateway"
	"utrade-bots-go/risk"
)

// 错误分类。瞬时错误等下一 tick；无效数据挂起下发；
// 风控走熔断序列；其余视为致命，循环退出。
const (
	ClassTransient   = "transient"
	ClassInvalidData = "invalid_data"
	ClassRisk        = "risk"
	ClassFatal       = "fatal"
)

// Classify 给错误归类，供指标与 tick 顶层决策使用。
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, risk.ErrTooManyOrders),
		errors.Is(err, risk.ErrQuoteBalanceLow),
		errors.Is(err, risk.ErrExposureExceeded):
		return ClassRisk
	case errors.Is(err, context.Canceled):
		return ClassFatal
	case gateway.IsTransient(err):
		return ClassTransient
	default:
		return ClassFatal
	}
}
