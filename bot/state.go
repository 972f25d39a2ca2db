package bot

import "sync"

// Status 机器人生命周期状态。
type Status int

const (
	StatusRunning Status = iota
	StatusPaused
	StatusStopped
	StatusError
)

// String 返回状态名称。
func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "RUNNING"
	case StatusPaused:
		return "PAUSED"
	case StatusStopped:
		return "STOPPED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus 把持久层的状态字符串解码为枚举；未知值按 STOPPED 处理，
// 避免散落在循环各处的字符串比较。
func ParseStatus(s string) Status {
	switch s {
	case "RUNNING", "running":
		return StatusRunning
	case "PAUSED", "paused":
		return StatusPaused
	case "ERROR", "error":
		return StatusError
	default:
		return StatusStopped
	}
}

// Machine 记录当前状态与可读原因。转移无条件生效（不做守卫），
// 所有转移都由编排循环读取外部控制标志或捕获致命错误驱动；
// STOPPED/ERROR 对当前进程而言是终态。
type Machine struct {
	mu     sync.RWMutex
	status Status
	reason string
}

// NewMachine 创建初始为 RUNNING 的状态机。
func NewMachine() *Machine {
	return &Machine{status: StatusRunning}
}

// Set 无条件转移并记录原因。
func (m *Machine) Set(status Status, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.reason = reason
}

// Status 返回当前状态。
func (m *Machine) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Reason 返回最近一次转移的原因。
func (m *Machine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Terminal 返回当前状态是否为进程内终态。
func (m *Machine) Terminal() bool {
	st := m.Status()
	return st == StatusStopped || st == StatusError
}
