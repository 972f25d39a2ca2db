package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"utrade-bots-go/market"
)

// BinanceSpotWSEndpoint 现货行情流默认端点。
const BinanceSpotWSEndpoint = "wss://stream.binance.com:9443"

// BookTickerStream 订阅 bookTicker 推送并写入 market.Book。
// 连接断开后按指数退避重连，直到 ctx 取消。
type BookTickerStream struct {
	BaseEndpoint string
	Symbol       string
	Book         *market.Book
	Dialer       *websocket.Dialer

	onConnect    func()
	onDisconnect func(error)
}

// NewBookTickerStream 创建行情流。
func NewBookTickerStream(symbol string, book *market.Book) *BookTickerStream {
	return &BookTickerStream{
		BaseEndpoint: BinanceSpotWSEndpoint,
		Symbol:       symbol,
		Book:         book,
		Dialer:       websocket.DefaultDialer,
	}
}

// OnConnect 注册连接成功回调。
func (s *BookTickerStream) OnConnect(fn func()) { s.onConnect = fn }

// OnDisconnect 注册断开回调。
func (s *BookTickerStream) OnDisconnect(fn func(error)) { s.onDisconnect = fn }

type bookTickerEvent struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// Run 阻塞运行直到 ctx 取消。单次连接失败只记录并退避重试，
// 行情流不可用时 PriceSource 会自动回退 REST，故这里不向上抛错。
func (s *BookTickerStream) Run(ctx context.Context) error {
	if s.Symbol == "" || s.Book == nil {
		return fmt.Errorf("stream not configured")
	}
	backoff := time.Second
	for {
		if err := s.runOnce(ctx); err != nil {
			if s.onDisconnect != nil {
				s.onDisconnect(err)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (s *BookTickerStream) runOnce(ctx context.Context) error {
	u := url.URL{
		Scheme: "wss",
		Host:   strings.TrimPrefix(s.BaseEndpoint, "wss://"),
		Path:   "/ws/" + strings.ToLower(s.Symbol) + "@bookTicker",
	}
	conn, _, err := s.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	if s.onConnect != nil {
		s.onConnect()
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var ev bookTickerEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}
		bid := parseFloat(ev.Bid)
		ask := parseFloat(ev.Ask)
		if bid > 0 && ask > 0 {
			s.Book.SetBest(bid, ask, time.Now().UTC())
		}
	}
}
