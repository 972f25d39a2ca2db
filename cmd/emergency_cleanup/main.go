package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"utrade-bots-go/config"
	"utrade-bots-go/gateway"
	"utrade-bots-go/store"
)

// 紧急清理：撤销所有机器人的全部挂单并关闭交易开关。
// 在主进程失联或行为异常时手工执行。
func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	keepFlags := flag.Bool("keepFlags", false, "只撤单，不关闭数据库里的交易开关")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	st, err := store.NewPostgres(cfg.Store.DSN)
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}
	defer st.Close()

	rest := &gateway.BinanceRESTClient{
		BaseURL:      cfg.Gateway.BaseURL,
		APIKey:       cfg.Gateway.APIKey,
		Secret:       cfg.Gateway.APISecret,
		HTTPClient:   gateway.NewDefaultHTTPClient(),
		RecvWindowMs: cfg.Gateway.RecvWindowMs,
		Limiter:      gateway.NewTokenBucketLimiter(4, 4),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, botID := range cfg.BotIDs {
		bc, err := st.LoadBotConfig(ctx, botID)
		if err != nil {
			log.Printf("机器人 %d 配置读取失败: %v", botID, err)
			continue
		}
		symbol := bc.Bot.Symbol

		fmt.Printf("🔸 机器人 %d (%s) 撤销全部挂单...\n", botID, symbol)
		open, err := rest.GetOpenOrders(ctx, symbol)
		if err != nil {
			log.Printf("查询挂单失败: %v", err)
		} else {
			fmt.Printf("当前挂单 %d 笔\n", len(open))
		}
		if err := rest.CancelAll(ctx, symbol); err != nil {
			log.Printf("撤单失败: %v", err)
			continue
		}
		fmt.Println("✅ 挂单已撤销")

		if !*keepFlags {
			if err := st.UpdateBotFlags(ctx, botID, false, false); err != nil {
				log.Printf("关闭交易开关失败: %v", err)
			} else {
				fmt.Println("✅ 交易开关已关闭")
			}
		}
	}
}
