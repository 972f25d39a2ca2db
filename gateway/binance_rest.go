package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"utrade-bots-go/market"
	"utrade-bots-go/order"
)

// BinanceRESTClient 现货签名客户端。HTTPClient 可注入 httptest，
// 不强制真实网络调用。
type BinanceRESTClient struct {
	BaseURL      string
	APIKey       string
	Secret       string
	HTTPClient   *http.Client
	Limiter      RateLimiter
	RecvWindowMs int64
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

type bookTickerResp struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

type accountResp struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

type openOrderResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MaxQty      string `json:"maxQty"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

type placeResp struct {
	OrderID int64 `json:"orderId"`
}

type tradeResp struct {
	OrderID  int64  `json:"orderId"`
	Price    string `json:"price"`
	Qty      string `json:"qty"`
	QuoteQty string `json:"quoteQty"`
	IsBuyer  bool   `json:"isBuyer"`
	Time     int64  `json:"time"`
}

// GetMid 拉取最优买卖价并计算中间价。
func (c *BinanceRESTClient) GetMid(ctx context.Context, symbol string) (market.Snapshot, error) {
	var bt bookTickerResp
	endpoint := c.BaseURL + "/api/v3/ticker/bookTicker?symbol=" + url.QueryEscape(symbol)
	if err := c.doPublic(ctx, endpoint, &bt); err != nil {
		return market.Snapshot{}, err
	}
	bid := parseFloat(bt.BidPrice)
	ask := parseFloat(bt.AskPrice)
	snap := market.Snapshot{Bid: bid, Ask: ask}
	if bid > 0 && ask > 0 {
		snap.Mid = (bid + ask) / 2
	}
	return snap, nil
}

// GetSymbolConstraints 拉取交易对的精度与名义限制。
// 启动时查一次即可，filters 基本不变。
func (c *BinanceRESTClient) GetSymbolConstraints(ctx context.Context, symbol string) (order.SymbolConstraints, error) {
	var info exchangeInfoResp
	endpoint := c.BaseURL + "/api/v3/exchangeInfo?symbol=" + url.QueryEscape(symbol)
	if err := c.doPublic(ctx, endpoint, &info); err != nil {
		return order.SymbolConstraints{}, err
	}
	for _, s := range info.Symbols {
		if !strings.EqualFold(s.Symbol, symbol) {
			continue
		}
		var sc order.SymbolConstraints
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				sc.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				sc.StepSize = parseFloat(f.StepSize)
				sc.MinQty = parseFloat(f.MinQty)
				sc.MaxQty = parseFloat(f.MaxQty)
			case "NOTIONAL", "MIN_NOTIONAL":
				sc.MinNotional = parseFloat(f.MinNotional)
			}
		}
		return sc, nil
	}
	return order.SymbolConstraints{}, fmt.Errorf("symbol %s not in exchangeInfo", symbol)
}

// GetBalances 拉取账户全部资产余额。
func (c *BinanceRESTClient) GetBalances(ctx context.Context) ([]Balance, error) {
	var acc accountResp
	if err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", nil, &acc); err != nil {
		return nil, err
	}
	balances := make([]Balance, 0, len(acc.Balances))
	for _, b := range acc.Balances {
		balances = append(balances, Balance{
			Asset:  b.Asset,
			Free:   parseFloat(b.Free),
			Locked: parseFloat(b.Locked),
		})
	}
	return balances, nil
}

// GetOpenOrders 拉取当前全部挂单。
func (c *BinanceRESTClient) GetOpenOrders(ctx context.Context, symbol string) ([]order.OpenOrder, error) {
	var raw []openOrderResp
	params := map[string]string{"symbol": symbol}
	if err := c.doSigned(ctx, http.MethodGet, "/api/v3/openOrders", params, &raw); err != nil {
		return nil, err
	}
	open := make([]order.OpenOrder, 0, len(raw))
	for _, o := range raw {
		qty := parseFloat(o.OrigQty) - parseFloat(o.ExecutedQty)
		open = append(open, order.OpenOrder{
			ID:            strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          order.Side(strings.ToUpper(o.Side)),
			Price:         parseFloat(o.Price),
			Qty:           qty,
		})
	}
	return open, nil
}

// PlaceOrder 下单。限价单默认 GTC；postOnly 使用现货的 LIMIT_MAKER；
// 市价买可用 quoteOrderQty 以报价资产计量。
func (c *BinanceRESTClient) PlaceOrder(ctx context.Context, q order.Quote) (string, error) {
	params := map[string]string{
		"symbol": q.Symbol,
		"side":   string(q.Side),
	}
	switch q.Type {
	case order.TypeMarket:
		params["type"] = "MARKET"
		if q.QuoteQty > 0 {
			params["quoteOrderQty"] = formatFloat(q.QuoteQty)
		} else {
			params["quantity"] = formatFloat(q.Qty)
		}
	default:
		if q.PostOnly {
			params["type"] = "LIMIT_MAKER"
		} else {
			params["type"] = "LIMIT"
			params["timeInForce"] = "GTC"
		}
		params["price"] = formatFloat(q.Price)
		params["quantity"] = formatFloat(q.Qty)
	}
	if q.ClientOrderID != "" {
		params["newClientOrderId"] = q.ClientOrderID
	}
	var pr placeResp
	if err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params, &pr); err != nil {
		return "", err
	}
	if pr.OrderID == 0 {
		return "", fmt.Errorf("empty orderId")
	}
	return strconv.FormatInt(pr.OrderID, 10), nil
}

// CancelOrder 撤销单笔订单。
func (c *BinanceRESTClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := map[string]string{"symbol": symbol, "orderId": orderID}
	return c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params, nil)
}

// CancelAll 撤销该交易对全部挂单。
func (c *BinanceRESTClient) CancelAll(ctx context.Context, symbol string) error {
	params := map[string]string{"symbol": symbol}
	return c.doSigned(ctx, http.MethodDelete, "/api/v3/openOrders", params, nil)
}

// GetFills 拉取 sinceMs 之后的成交记录。
func (c *BinanceRESTClient) GetFills(ctx context.Context, symbol string, sinceMs int64) ([]Fill, error) {
	params := map[string]string{"symbol": symbol}
	if sinceMs > 0 {
		params["startTime"] = strconv.FormatInt(sinceMs, 10)
	}
	var raw []tradeResp
	if err := c.doSigned(ctx, http.MethodGet, "/api/v3/myTrades", params, &raw); err != nil {
		return nil, err
	}
	fills := make([]Fill, 0, len(raw))
	for _, tr := range raw {
		fills = append(fills, Fill{
			OrderID:  strconv.FormatInt(tr.OrderID, 10),
			Price:    parseFloat(tr.Price),
			Qty:      parseFloat(tr.Qty),
			QuoteQty: parseFloat(tr.QuoteQty),
			IsBuyer:  tr.IsBuyer,
			TimeMs:   tr.Time,
		})
	}
	return fills, nil
}

func (c *BinanceRESTClient) doPublic(ctx context.Context, endpoint string, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		c.Limiter.Wait()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *BinanceRESTClient) doSigned(ctx context.Context, method, path string, params map[string]string, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		c.Limiter.Wait()
	}
	if params == nil {
		params = make(map[string]string)
	}
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	recv := c.RecvWindowMs
	if recv <= 0 {
		recv = 5000
	}
	params["recvWindow"] = strconv.FormatInt(recv, 10)
	query, sig := SignParams(params, c.Secret)
	endpoint := c.BaseURL + path + "?" + query + "&signature=" + url.QueryEscape(sig)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.APIKey)
	return c.do(req, out)
}

func (c *BinanceRESTClient) do(req *http.Request, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
