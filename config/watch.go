package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher 监听配置文件变化，重载成功后递增 epoch 并回调。
// 下游按 epoch 判断配置是否变过，组件从新快照整体重建，不做原地修改。
type Watcher struct {
	path     string
	cooldown time.Duration
	watcher  *fsnotify.Watcher

	mu         sync.RWMutex
	epoch      int64
	current    AppConfig
	lastReload time.Time
}

// NewWatcher 创建配置监听器，cur 为启动时已加载的配置。
func NewWatcher(path string, cur AppConfig, cooldown time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config file: %w", err)
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Watcher{
		path:     path,
		cooldown: cooldown,
		watcher:  fw,
		epoch:    1,
		current:  cur,
	}, nil
}

// Run 阻塞监听直到 ctx 取消。onUpdate 可为 nil。
// 解析失败保留旧配置，只在重载成功时递增 epoch。
func (w *Watcher) Run(ctx context.Context, onUpdate func(AppConfig)) error {
	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if cfg, ok := w.reload(); ok && onUpdate != nil {
				onUpdate(cfg)
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			// 监听错误不致命，下次事件继续
		}
	}
}

func (w *Watcher) reload() (AppConfig, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if time.Since(w.lastReload) < w.cooldown {
		return AppConfig{}, false
	}
	cfg, err := LoadWithEnvOverrides(w.path)
	if err != nil {
		return AppConfig{}, false
	}
	w.current = cfg
	w.epoch++
	w.lastReload = time.Now()
	return cfg, true
}

// Snapshot 返回当前配置与 epoch。
func (w *Watcher) Snapshot() (AppConfig, int64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.epoch
}
