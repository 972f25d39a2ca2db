package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Postgres 基于 lib/pq 的 Store 实现。
type Postgres struct {
	db *sql.DB
}

// NewPostgres 打开连接池并做一次连通性检查。
func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// InitSchema 建表（幂等）。
func (p *Postgres) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			base_asset TEXT NOT NULL,
			quote_asset TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'STOPPED',
			mm_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			vol_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			tick_ms BIGINT NOT NULL DEFAULT 2000,
			mm_config JSONB NOT NULL DEFAULT '{}',
			vol_config JSONB NOT NULL DEFAULT '{}',
			risk_config JSONB NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS bot_runtime (
			bot_id BIGINT PRIMARY KEY REFERENCES bots(id),
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			open_orders INT NOT NULL DEFAULT 0,
			open_orders_mm INT NOT NULL DEFAULT 0,
			open_orders_vol INT NOT NULL DEFAULT 0,
			last_vol_client_order_id TEXT NOT NULL DEFAULT '',
			mid DOUBLE PRECISION NOT NULL DEFAULT 0,
			bid DOUBLE PRECISION NOT NULL DEFAULT 0,
			ask DOUBLE PRECISION NOT NULL DEFAULT 0,
			free_base DOUBLE PRECISION NOT NULL DEFAULT 0,
			free_usdt DOUBLE PRECISION NOT NULL DEFAULT 0,
			traded_notional_today DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bot_alerts (
			id BIGSERIAL PRIMARY KEY,
			bot_id BIGINT NOT NULL REFERENCES bots(id),
			level TEXT NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS bot_order_map (
			bot_id BIGINT NOT NULL REFERENCES bots(id),
			symbol TEXT NOT NULL,
			order_id TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (bot_id, order_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// LoadBotConfig 加载机器人与三份配置。
func (p *Postgres) LoadBotConfig(ctx context.Context, botID int64) (BotConfig, error) {
	var cfg BotConfig
	row := p.db.QueryRowContext(ctx, `
		SELECT id, symbol, base_asset, quote_asset, status, mm_enabled, vol_enabled, tick_ms,
		       COALESCE(mm_config->>'spreadPct','0')::float8,
		       COALESCE(mm_config->>'quoteNotionalUsdt','0')::float8,
		       COALESCE(mm_config->>'invBudgetUsdt','0')::float8,
		       COALESCE(mm_config->>'invAlpha','0')::float8,
		       COALESCE(vol_config->>'mode',''),
		       COALESCE(vol_config->>'minTradeUsdt','0')::float8,
		       COALESCE(vol_config->>'maxTradeUsdt','0')::float8,
		       COALESCE(vol_config->>'dailyNotionalUsdt','0')::float8,
		       COALESCE(vol_config->>'minIntervalMs','0')::bigint,
		       COALESCE(vol_config->>'safetyMult','0')::float8,
		       COALESCE(risk_config->>'maxOpenOrders','0')::int,
		       COALESCE(risk_config->>'minQuoteBalance','0')::float8,
		       COALESCE(risk_config->>'maxBaseExposureUsdt','0')::float8
		FROM bots WHERE id = $1`, botID)
	err := row.Scan(
		&cfg.Bot.ID, &cfg.Bot.Symbol, &cfg.Bot.BaseAsset, &cfg.Bot.QuoteAsset,
		&cfg.Bot.Status, &cfg.Bot.MMEnabled, &cfg.Bot.VolEnabled, &cfg.Bot.TickMs,
		&cfg.MM.SpreadPct, &cfg.MM.QuoteNotionalUsdt, &cfg.MM.InvBudgetUsdt, &cfg.MM.InvAlpha,
		&cfg.Vol.Mode, &cfg.Vol.MinTradeUsdt, &cfg.Vol.MaxTradeUsdt,
		&cfg.Vol.DailyNotionalUsdt, &cfg.Vol.MinIntervalMs, &cfg.Vol.SafetyMult,
		&cfg.Risk.MaxOpenOrders, &cfg.Risk.MinQuoteBalance, &cfg.Risk.MaxBaseExposureUsdt,
	)
	if err != nil {
		return BotConfig{}, fmt.Errorf("load bot %d: %w", botID, err)
	}
	return cfg, nil
}

// UpdateBotFlags 更新两个策略开关。
func (p *Postgres) UpdateBotFlags(ctx context.Context, botID int64, mmEnabled, volEnabled bool) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE bots SET mm_enabled = $2, vol_enabled = $3 WHERE id = $1`,
		botID, mmEnabled, volEnabled)
	if err != nil {
		return fmt.Errorf("update bot flags: %w", err)
	}
	return nil
}

// WriteRuntime upsert 运行时快照。
func (p *Postgres) WriteRuntime(ctx context.Context, rt RuntimeState) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bot_runtime (
			bot_id, status, reason, open_orders, open_orders_mm, open_orders_vol,
			last_vol_client_order_id, mid, bid, ask, free_base, free_usdt,
			traded_notional_today, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (bot_id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			open_orders = EXCLUDED.open_orders,
			open_orders_mm = EXCLUDED.open_orders_mm,
			open_orders_vol = EXCLUDED.open_orders_vol,
			last_vol_client_order_id = EXCLUDED.last_vol_client_order_id,
			mid = EXCLUDED.mid,
			bid = EXCLUDED.bid,
			ask = EXCLUDED.ask,
			free_base = EXCLUDED.free_base,
			free_usdt = EXCLUDED.free_usdt,
			traded_notional_today = EXCLUDED.traded_notional_today,
			updated_at = EXCLUDED.updated_at`,
		rt.BotID, rt.Status, rt.Reason, rt.OpenOrders, rt.OpenOrdersMM, rt.OpenOrdersVol,
		rt.LastVolClientOrderID, rt.Mid, rt.Bid, rt.Ask, rt.FreeBase, rt.FreeUsdt,
		rt.TradedNotionalToday, rt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("write runtime: %w", err)
	}
	return nil
}

// WriteAlert 追加一条告警记录。
func (p *Postgres) WriteAlert(ctx context.Context, a Alert) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO bot_alerts (bot_id, level, title, message) VALUES ($1,$2,$3,$4)`,
		a.BotID, a.Level, a.Title, a.Message)
	if err != nil {
		return fmt.Errorf("write alert: %w", err)
	}
	return nil
}

// UpsertOrderMap 记录订单归属映射。
func (p *Postgres) UpsertOrderMap(ctx context.Context, m OrderMap) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bot_order_map (bot_id, symbol, order_id, client_order_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (bot_id, order_id) DO UPDATE SET client_order_id = EXCLUDED.client_order_id`,
		m.BotID, m.Symbol, m.OrderID, m.ClientOrderID)
	if err != nil {
		return fmt.Errorf("upsert order map: %w", err)
	}
	return nil
}

// Close 关闭连接池。
func (p *Postgres) Close() error {
	return p.db.Close()
}
