package gate

import (
	"math"
	"strings"
	"sync"
	"time"
)

// 拒绝原因码，持久层与告警侧按码聚合。
const (
	ReasonDisabled     = "gate_disabled"
	ReasonStateMissing = "prediction_state_missing"
	ReasonStale        = "stale_prediction_state"
	ReasonLowConf      = "low_confidence"
	ReasonSignalBlock  = "signal_not_allowed"
	ReasonBlockedTag   = "blocked_tag_match"
)

const maxTags = 16

// SizeMultiplier 仓位乘数策略。Min > Max 为配置笔误，评估时自动对调。
type SizeMultiplier struct {
	Base float64
	Min  float64
	Max  float64
}

// Policy 预测闸门策略，来自策略存储，评估期间只读。
type Policy struct {
	Enabled                 bool
	MaxAgeSec               int64
	MinConfidence           float64
	AllowSignals            []string // 空表示不限制信号
	BlockedTags             []string
	Size                    SizeMultiplier
	HighConfidenceThreshold float64
	HighConfidenceBoost     float64 // 高置信度乘数，<=0 视为 1
	HighVolReduction        float64 // 命中 high_vol 标签时的折减乘数，<=0 视为 1
}

// PredictionState 外部信号的本地缓存。
type PredictionState struct {
	Signal      string
	Confidence  float64
	Tags        []string
	UpdatedAtMs int64
}

// Result 闸门裁决。
type Result struct {
	Allow          bool
	Reason         string
	SizeMultiplier float64
}

// Evaluate 纯函数评估：按固定顺序检查（首个命中即拒绝），
// 放行时计算仓位乘数并收敛到 [Min, Max]、保留 4 位小数。
func Evaluate(p Policy, st *PredictionState, now time.Time) Result {
	if !p.Enabled {
		return Result{Allow: false, Reason: ReasonDisabled}
	}
	if st == nil || st.UpdatedAtMs <= 0 {
		return Result{Allow: false, Reason: ReasonStateMissing}
	}
	if p.MaxAgeSec > 0 {
		age := now.UnixMilli() - st.UpdatedAtMs
		// 恰好等于上限视为新鲜
		if age > p.MaxAgeSec*1000 {
			return Result{Allow: false, Reason: ReasonStale}
		}
	}
	if p.MinConfidence > 0 && st.Confidence < p.MinConfidence {
		return Result{Allow: false, Reason: ReasonLowConf}
	}
	if len(p.AllowSignals) > 0 && !containsFold(p.AllowSignals, st.Signal) {
		return Result{Allow: false, Reason: ReasonSignalBlock}
	}

	tags := NormalizeTags(st.Tags)
	for _, blocked := range NormalizeTags(p.BlockedTags) {
		for _, tag := range tags {
			if tag == blocked {
				return Result{Allow: false, Reason: ReasonBlockedTag}
			}
		}
	}

	mult := p.Size.Base
	if mult <= 0 {
		mult = 1
	}
	if p.HighConfidenceThreshold > 0 && st.Confidence >= p.HighConfidenceThreshold && p.HighConfidenceBoost > 0 {
		mult *= p.HighConfidenceBoost
	}
	if p.HighVolReduction > 0 {
		for _, tag := range tags {
			if tag == "high_vol" {
				mult *= p.HighVolReduction
				break
			}
		}
	}
	mult = clamp(mult, p.Size.Min, p.Size.Max)
	return Result{Allow: true, SizeMultiplier: round(mult, 4)}
}

// NormalizeTags 小写、去首尾空白、去重并截断到上限。
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		n := strings.ToLower(strings.TrimSpace(t))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
		if len(out) >= maxTags {
			break
		}
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

// clamp 收敛到 [min, max]；min > max 时自动对调。
func clamp(v, min, max float64) float64 {
	if min > max {
		min, max = max, min
	}
	if max > 0 && v > max {
		v = max
	}
	if v < min {
		v = min
	}
	return v
}

func round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

// Intent 复制交易意图；只有 open 类意图参与缩放。
type Intent struct {
	Type     string // "open" / "close" / ...
	Quantity float64
	Notional float64
	Risk     float64
}

// ApplyToIntent 按乘数缩放 open 类意图的数量/名义/风险字段，
// 各自独立保留 8 位小数；其余类型原样返回。
func ApplyToIntent(in Intent, mult float64) Intent {
	if in.Type != "open" || mult <= 0 {
		return in
	}
	out := in
	if out.Quantity > 0 {
		out.Quantity = round(out.Quantity*mult, 8)
	}
	if out.Notional > 0 {
		out.Notional = round(out.Notional*mult, 8)
	}
	if out.Risk > 0 {
		out.Risk = round(out.Risk*mult, 8)
	}
	return out
}

// Metrics 进程生命周期的闸门计数，仅用于监控，无重置契约。
type Metrics struct {
	mu         sync.Mutex
	allowed    int64
	gated      int64
	multTotal  float64
	multEvents int64
}

// Record 记录一次裁决。
func (m *Metrics) Record(res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res.Allow {
		m.allowed++
		m.multTotal += res.SizeMultiplier
		m.multEvents++
		return
	}
	m.gated++
}

// Snapshot 返回计数与乘数均值。
func (m *Metrics) Snapshot() (allowed, gated int64, avgMult float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.multEvents > 0 {
		avgMult = m.multTotal / float64(m.multEvents)
	}
	return m.allowed, m.gated, avgMult
}
