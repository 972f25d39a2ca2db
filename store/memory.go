package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory 内存实现，测试用。记录所有写入以便断言。
type Memory struct {
	mu sync.Mutex

	Bots     map[int64]BotConfig
	Runtimes []RuntimeState
	Alerts   []Alert
	OrderMap map[string]OrderMap // key: orderID

	FlagUpdates int // UpdateBotFlags 调用计数，场景测试断言"恰好一次"用
	FailWrites  bool
}

func NewMemory() *Memory {
	return &Memory{
		Bots:     make(map[int64]BotConfig),
		OrderMap: make(map[string]OrderMap),
	}
}

func (m *Memory) LoadBotConfig(ctx context.Context, botID int64) (BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.Bots[botID]
	if !ok {
		return BotConfig{}, fmt.Errorf("load bot %d: not found", botID)
	}
	return cfg, nil
}

func (m *Memory) UpdateBotFlags(ctx context.Context, botID int64, mmEnabled, volEnabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlagUpdates++
	if m.FailWrites {
		return fmt.Errorf("update bot flags: store unavailable")
	}
	cfg, ok := m.Bots[botID]
	if !ok {
		return fmt.Errorf("update bot %d: not found", botID)
	}
	cfg.Bot.MMEnabled = mmEnabled
	cfg.Bot.VolEnabled = volEnabled
	m.Bots[botID] = cfg
	return nil
}

func (m *Memory) WriteRuntime(ctx context.Context, rt RuntimeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("write runtime: store unavailable")
	}
	m.Runtimes = append(m.Runtimes, rt)
	return nil
}

func (m *Memory) WriteAlert(ctx context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("write alert: store unavailable")
	}
	m.Alerts = append(m.Alerts, a)
	return nil
}

func (m *Memory) UpsertOrderMap(ctx context.Context, om OrderMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("upsert order map: store unavailable")
	}
	m.OrderMap[om.OrderID] = om
	return nil
}

// LastRuntime 返回最近一次运行时快照。
func (m *Memory) LastRuntime() (RuntimeState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Runtimes) == 0 {
		return RuntimeState{}, false
	}
	return m.Runtimes[len(m.Runtimes)-1], true
}
