package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"utrade-bots-go/config"
	"utrade-bots-go/gateway"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	assetFilter := flag.String("asset", "", "optional asset filter (e.g. USDT)")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	client := &gateway.BinanceRESTClient{
		BaseURL:      cfg.Gateway.BaseURL,
		APIKey:       cfg.Gateway.APIKey,
		Secret:       cfg.Gateway.APISecret,
		HTTPClient:   gateway.NewDefaultHTTPClient(),
		RecvWindowMs: cfg.Gateway.RecvWindowMs,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	balances, err := client.GetBalances(ctx)
	if err != nil {
		log.Fatalf("fetch balances: %v", err)
	}

	filter := strings.ToUpper(strings.TrimSpace(*assetFilter))
	shown := 0
	for _, b := range balances {
		if filter != "" && strings.ToUpper(b.Asset) != filter {
			continue
		}
		fmt.Printf("%s free=%.8f locked=%.8f\n", b.Asset, b.Free, b.Locked)
		shown++
	}
	if filter != "" && shown == 0 {
		fmt.Printf("no balances matched asset %s\n", filter)
	}
}
