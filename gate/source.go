package gate

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// FileSource 从本地文件加载闸门策略与信号缓存。
// 策略文件由运维写入，信号文件由外部预测服务周期性刷新；
// 按 mtime 缓存，避免每个 tick 都读盘。
type FileSource struct {
	PolicyPath string
	StatePath  string

	mu          sync.Mutex
	policy      Policy
	policyMod   time.Time
	state       *PredictionState
	stateMod    time.Time
	policyReady bool
}

type policyFile struct {
	Enabled                 bool           `yaml:"enabled"`
	MaxAgeSec               int64          `yaml:"maxAgeSec"`
	MinConfidence           float64        `yaml:"minConfidence"`
	AllowSignals            []string       `yaml:"allowSignals"`
	BlockedTags             []string       `yaml:"blockedTags"`
	Size                    sizeMultiplier `yaml:"size"`
	HighConfidenceThreshold float64        `yaml:"highConfidenceThreshold"`
	HighConfidenceBoost     float64        `yaml:"highConfidenceBoost"`
	HighVolReduction        float64        `yaml:"highVolReduction"`
}

type sizeMultiplier struct {
	Base float64 `yaml:"base"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

type stateFile struct {
	Signal      string   `yaml:"signal"`
	Confidence  float64  `yaml:"confidence"`
	Tags        []string `yaml:"tags"`
	UpdatedAtMs int64    `yaml:"updatedAtMs"`
}

func NewFileSource(policyPath, statePath string) *FileSource {
	return &FileSource{PolicyPath: policyPath, StatePath: statePath}
}

// Load 返回当前策略与信号状态。信号文件缺失不算错误
// （Evaluate 会以 state-missing 拒绝），策略文件缺失才是错误。
func (f *FileSource) Load() (Policy, *PredictionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.refreshPolicy(); err != nil {
		return Policy{}, nil, err
	}
	f.refreshState()
	return f.policy, f.state, nil
}

func (f *FileSource) refreshPolicy() error {
	info, err := os.Stat(f.PolicyPath)
	if err != nil {
		return fmt.Errorf("stat gate policy: %w", err)
	}
	if f.policyReady && !info.ModTime().After(f.policyMod) {
		return nil
	}
	raw, err := os.ReadFile(f.PolicyPath)
	if err != nil {
		return fmt.Errorf("read gate policy: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return fmt.Errorf("parse gate policy: %w", err)
	}
	f.policy = Policy{
		Enabled:                 pf.Enabled,
		MaxAgeSec:               pf.MaxAgeSec,
		MinConfidence:           pf.MinConfidence,
		AllowSignals:            pf.AllowSignals,
		BlockedTags:             pf.BlockedTags,
		Size:                    SizeMultiplier(pf.Size),
		HighConfidenceThreshold: pf.HighConfidenceThreshold,
		HighConfidenceBoost:     pf.HighConfidenceBoost,
		HighVolReduction:        pf.HighVolReduction,
	}
	f.policyMod = info.ModTime()
	f.policyReady = true
	return nil
}

func (f *FileSource) refreshState() {
	info, err := os.Stat(f.StatePath)
	if err != nil {
		f.state = nil
		return
	}
	if f.state != nil && !info.ModTime().After(f.stateMod) {
		return
	}
	raw, err := os.ReadFile(f.StatePath)
	if err != nil {
		f.state = nil
		return
	}
	var sf stateFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		f.state = nil
		return
	}
	f.state = &PredictionState{
		Signal:      sf.Signal,
		Confidence:  sf.Confidence,
		Tags:        sf.Tags,
		UpdatedAtMs: sf.UpdatedAtMs,
	}
	f.stateMod = info.ModTime()
}
