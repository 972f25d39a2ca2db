package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"utrade-bots-go/config"
	"utrade-bots-go/fills"
	"utrade-bots-go/gate"
	"utrade-bots-go/gateway"
	"utrade-bots-go/infrastructure/alert"
	"utrade-bots-go/infrastructure/logger"
	"utrade-bots-go/infrastructure/monitor"
	"utrade-bots-go/market"
	"utrade-bots-go/runner"
	"utrade-bots-go/store"
	"utrade-bots-go/strategy"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	metricsAddr := flag.String("metricsAddr", "", "覆盖配置中的 metrics 监听地址")
	restRate := flag.Float64("restRate", 8, "REST 每秒请求数上限")
	restBurst := flag.Int("restBurst", 16, "REST 突发容量")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	zlog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Close()

	st, err := store.NewPostgres(cfg.Store.DSN)
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := st.InitSchema(ctx); err != nil {
		log.Fatalf("初始化表结构失败: %v", err)
	}

	alerts := buildAlerts(cfg.Alert)

	rest := &gateway.BinanceRESTClient{
		BaseURL:      cfg.Gateway.BaseURL,
		APIKey:       cfg.Gateway.APIKey,
		Secret:       cfg.Gateway.APISecret,
		HTTPClient:   gateway.NewDefaultHTTPClient(),
		RecvWindowMs: cfg.Gateway.RecvWindowMs,
		Limiter:      gateway.NewTokenBucketLimiter(*restRate, *restBurst),
	}

	var gateSrc runner.GateSource
	if cfg.Gate.PolicyPath != "" {
		gateSrc = gate.NewFileSource(cfg.Gate.PolicyPath, cfg.Gate.StatePath)
	}

	// 配置热更新：成功重载只影响后续新拉起的循环，已运行循环
	// 继续走 store 内的机器人配置轮询。
	watcher, err := config.NewWatcher(*configPath, cfg, 0)
	if err != nil {
		zlog.LogError(err, map[string]interface{}{"stage": "config_watch"})
	} else {
		go func() {
			_ = watcher.Run(ctx, func(next config.AppConfig) {
				_, epoch := watcher.Snapshot()
				zlog.LogEvent("config_reloaded", map[string]interface{}{"epoch": epoch})
			})
		}()
	}

	if len(cfg.BotIDs) == 0 {
		log.Fatalf("配置未指定任何 botIds")
	}

	var (
		gatherers prometheus.Gatherers
		wg        sync.WaitGroup
	)
	for _, botID := range cfg.BotIDs {
		bc, err := st.LoadBotConfig(ctx, botID)
		if err != nil {
			log.Fatalf("加载机器人 %d 配置失败: %v", botID, err)
		}
		symbol := bc.Bot.Symbol
		blog := zlog.ForBot(botID, symbol)

		mon := monitor.New(monitor.Config{
			Namespace: "utrade",
			Subsystem: fmt.Sprintf("bot%d", botID),
		})
		gatherers = append(gatherers, mon.Registry())

		book := market.NewBook()
		stream := gateway.NewBookTickerStream(symbol, book)
		if cfg.Gateway.WSEndpoint != "" {
			stream.BaseEndpoint = cfg.Gateway.WSEndpoint
		}
		stream.OnConnect(func() {
			blog.LogEvent("ws_connect", map[string]interface{}{"symbol": symbol})
		})
		stream.OnDisconnect(func(err error) {
			blog.LogError(err, map[string]interface{}{"stage": "ws", "symbol": symbol})
		})
		go func() {
			if err := stream.Run(ctx); err != nil {
				blog.LogError(err, map[string]interface{}{"stage": "ws_exit", "symbol": symbol})
			}
		}()

		constraints, err := rest.GetSymbolConstraints(ctx, symbol)
		if err != nil {
			// 精度限制查不到时退化为不做本地对齐，由交易所侧拒单兜底
			blog.LogError(err, map[string]interface{}{"stage": "exchange_info", "symbol": symbol})
		}

		quoter, err := strategy.NewQuoter("spread", symbol, strategy.SpreadConfig{
			SpreadPct:         bc.MM.SpreadPct,
			QuoteNotionalUsdt: bc.MM.QuoteNotionalUsdt,
			Constraints:       constraints,
		})
		if err != nil {
			log.Fatalf("初始化策略失败: %v", err)
		}

		ms := &mappingStore{Store: st}
		deps := runner.Deps{
			Exchange: rest,
			Store:    ms,
			Price:    market.NewSource(symbol, book, rest, 0),
			Quoter:   quoter,
			Fills:    fills.NewSyncer(symbol, rest, ms),
			Gate:     gateSrc,
			Alerts:   alerts,
			Monitor:  mon,
			Log:      blog,
		}

		r := runner.New(botID, cfg.Tuning, deps, nil)
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				blog.LogError(err, map[string]interface{}{"stage": "runner_exit", "bot_id": id})
				// 单个机器人致命退出不拖垮其余循环
			}
		}(botID)
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, gatherers, zlog)
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	go watchdogLoop(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	zlog.LogEvent("shutdown", nil)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		zlog.LogEvent("shutdown_timeout", nil)
	}
}

// buildAlerts 组装人向告警通道：日志通道始终在，Telegram 按配置启用。
func buildAlerts(cfg config.AlertConfig) *alert.Manager {
	channels := []alert.Channel{alert.NewLogChannel("log", os.Stderr)}
	if cfg.TelegramToken != "" && cfg.TelegramChat != "" {
		channels = append(channels, alert.NewTelegramChannel(cfg.TelegramToken, cfg.TelegramChat))
	}
	throttle := time.Duration(cfg.ThrottleSec) * time.Second
	return alert.NewManager(channels, throttle)
}

func serveMetrics(addr string, gatherers prometheus.Gatherers, zlog *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		zlog.LogError(err, map[string]interface{}{"stage": "metrics"})
	}
}

// watchdogLoop 在 systemd 启用 watchdog 时按一半周期喂狗。
func watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// mappingStore 在写穿 store 的同时维护 orderID→clientOrderID 的
// 进程内缓存，供成交同步按订单归属分类。
type mappingStore struct {
	store.Store

	mu sync.RWMutex
	m  map[string]string
}

func (s *mappingStore) UpsertOrderMap(ctx context.Context, om store.OrderMap) error {
	s.mu.Lock()
	if s.m == nil {
		s.m = make(map[string]string)
	}
	s.m[om.OrderID] = om.ClientOrderID
	s.mu.Unlock()
	return s.Store.UpsertOrderMap(ctx, om)
}

func (s *mappingStore) ClientOrderID(orderID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.m[orderID]
	return id, ok
}
