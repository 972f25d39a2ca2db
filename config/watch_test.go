package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cur, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	w, err := NewWatcher(path, cur, time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	updated := make(chan AppConfig, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, func(cfg AppConfig) {
		select {
		case updated <- cfg:
		default:
		}
	})

	time.Sleep(50 * time.Millisecond)
	changed := sampleYAML + "\nmetrics:\n  addr: \":9100\"\n"
	if err := os.WriteFile(path, []byte(changed), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-updated:
		if cfg.Metrics.Addr != ":9100" {
			t.Errorf("metrics addr = %q, want :9100", cfg.Metrics.Addr)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	_, epoch := w.Snapshot()
	if epoch < 2 {
		t.Errorf("epoch = %d, want >= 2 after reload", epoch)
	}
}

func TestWatcherKeepsOldConfigOnParseError(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cur, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	w, err := NewWatcher(path, cur, time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx, nil)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(":::not yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	cfg, epoch := w.Snapshot()
	if epoch != 1 {
		t.Errorf("epoch = %d, want 1 (no successful reload)", epoch)
	}
	if cfg.Env != "prod" {
		t.Errorf("env = %q, old config should be kept", cfg.Env)
	}
}
