package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitos/spot_support_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/spot"

	// Prices pushed over the trade stream older than this are considered
	// stale and GetMarketPrice falls back to REST.
	priceFreshness = 10 * time.Second
)

type lastPrice struct {
	price float64
	at    time.Time
}

// BybitAdapter implements domain.Exchange against the Bybit V5 spot API.
// REST carries orders and lookups; the public trade websocket keeps a fresh
// last price per subscribed symbol.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	logger    *zap.Logger

	mu        sync.Mutex
	wsConn    *websocket.Conn
	prices    map[string]lastPrice
	callbacks []func(symbol string, price, volume float64)
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, logger *zap.Logger) *BybitAdapter {
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		prices:    make(map[string]lastPrice),
	}
}

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64, recvWindow int) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, method, path string, payload map[string]interface{}) ([]byte, error) {
	timestamp := time.Now().UnixMilli()
	recvWindow := 5000

	var body []byte
	var paramsStr string

	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = jsonBody
		paramsStr = string(jsonBody)
	} else if method == http.MethodGet {
		if idx := strings.Index(path, "?"); idx != -1 {
			paramsStr = path[idx+1:]
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}

	signature := b.sign(paramsStr, timestamp, recvWindow)

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(respBody))
	}

	return respBody, nil
}

// GetMarketPrice serves from the websocket feed when the last trade is fresh
// enough, otherwise queries the spot ticker.
func (b *BybitAdapter) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	b.mu.Lock()
	last, ok := b.prices[symbol]
	b.mu.Unlock()
	if ok && time.Since(last.at) < priceFreshness {
		return last.price, nil
	}

	path := "/v5/market/tickers?category=spot&symbol=" + symbol
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return 0, err
	}
	if result.RetCode != 0 {
		return 0, fmt.Errorf("bybit ticker error: %s", result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		return 0, fmt.Errorf("symbol %s not found", symbol)
	}

	return strconv.ParseFloat(result.Result.List[0].LastPrice, 64)
}

func (b *BybitAdapter) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	payload := map[string]interface{}{
		"category":  "spot",
		"symbol":    req.Symbol,
		"side":      bybitSide(req.Side),
		"orderType": bybitOrderType(req.Type),
		"qty":       strconv.FormatFloat(req.Quantity, 'f', -1, 64),
	}
	if req.Type == domain.OrderTypeLimit {
		payload["price"] = strconv.FormatFloat(req.Price, 'f', -1, 64)
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		payload["timeInForce"] = tif
	}

	resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/create", payload)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit order error: %s", result.RetMsg)
	}

	// Market orders may already be done; read back the authoritative state.
	if req.Type == domain.OrderTypeMarket {
		status, err := b.GetOrderStatus(ctx, req.Symbol, result.Result.OrderID)
		if err == nil {
			return &domain.OrderResult{
				OrderID:  status.OrderID,
				Status:   status.Status,
				AvgPrice: status.AvgPrice,
				ExecQty:  status.ExecQty,
			}, nil
		}
		b.logger.Warn("Failed to read back market order state",
			zap.Error(err),
			zap.String("symbol", req.Symbol),
			zap.String("order_id", result.Result.OrderID))
	}

	return &domain.OrderResult{
		OrderID: result.Result.OrderID,
		Status:  domain.OrderStateNew,
	}, nil
}

func (b *BybitAdapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (*domain.OrderStatus, error) {
	path := fmt.Sprintf("/v5/order/realtime?category=spot&symbol=%s&orderId=%s", symbol, orderID)
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				OrderID     string `json:"orderId"`
				OrderStatus string `json:"orderStatus"`
				AvgPrice    string `json:"avgPrice"`
				CumExecQty  string `json:"cumExecQty"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit order status error: %s", result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		// Not in the realtime window anymore; check order history.
		return b.getOrderHistory(ctx, symbol, orderID)
	}

	raw := result.Result.List[0]
	avgPrice, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(raw.CumExecQty, 64)

	return &domain.OrderStatus{
		OrderID:  raw.OrderID,
		Status:   raw.OrderStatus,
		AvgPrice: avgPrice,
		ExecQty:  execQty,
	}, nil
}

// getOrderHistory covers orders that have left the realtime window: filled
// and cancelled spot orders move there after a short while.
func (b *BybitAdapter) getOrderHistory(ctx context.Context, symbol, orderID string) (*domain.OrderStatus, error) {
	path := fmt.Sprintf("/v5/order/history?category=spot&symbol=%s&orderId=%s", symbol, orderID)
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				OrderID     string `json:"orderId"`
				OrderStatus string `json:"orderStatus"`
				AvgPrice    string `json:"avgPrice"`
				CumExecQty  string `json:"cumExecQty"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit order history error: %s", result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		return nil, fmt.Errorf("order %s not found", orderID)
	}

	raw := result.Result.List[0]
	avgPrice, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(raw.CumExecQty, 64)

	return &domain.OrderStatus{
		OrderID:  raw.OrderID,
		Status:   raw.OrderStatus,
		AvgPrice: avgPrice,
		ExecQty:  execQty,
	}, nil
}

func (b *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := map[string]interface{}{
		"category": "spot",
		"symbol":   symbol,
		"orderId":  orderID,
	}
	resp, err := b.sendRequest(ctx, http.MethodPost, "/v5/order/cancel", payload)
	if err != nil {
		return err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	if result.RetCode != 0 {
		return fmt.Errorf("bybit cancel error: %s", result.RetMsg)
	}
	return nil
}

func (b *BybitAdapter) GetInstrumentInfo(ctx context.Context, symbol string) (*domain.InstrumentInfo, error) {
	path := fmt.Sprintf("/v5/market/instruments-info?category=spot&symbol=%s", symbol)
	resp, err := b.sendRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Symbol        string `json:"symbol"`
				LotSizeFilter struct {
					BasePrecision string `json:"basePrecision"`
					MinOrderQty   string `json:"minOrderQty"`
					MinOrderAmt   string `json:"minOrderAmt"`
				} `json:"lotSizeFilter"`
				PriceFilter struct {
					TickSize string `json:"tickSize"`
				} `json:"priceFilter"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("bybit instrument error: %s", result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}

	raw := result.Result.List[0]
	tickSize, _ := strconv.ParseFloat(raw.PriceFilter.TickSize, 64)
	lotStep, _ := strconv.ParseFloat(raw.LotSizeFilter.BasePrecision, 64)
	minQty, _ := strconv.ParseFloat(raw.LotSizeFilter.MinOrderQty, 64)
	minNotional, _ := strconv.ParseFloat(raw.LotSizeFilter.MinOrderAmt, 64)

	return &domain.InstrumentInfo{
		Symbol:      raw.Symbol,
		TickSize:    tickSize,
		LotStep:     lotStep,
		MinQty:      minQty,
		MinNotional: minNotional,
	}, nil
}

func bybitSide(side domain.Side) string {
	if side == domain.SideSell {
		return "Sell"
	}
	return "Buy"
}

func bybitOrderType(t domain.OrderType) string {
	if t == domain.OrderTypeMarket {
		return "Market"
	}
	return "Limit"
}

// --- WebSocket ---

func (b *BybitAdapter) OnTrade(callback func(symbol string, price, volume float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, callback)
}

func (b *BybitAdapter) Subscribe(symbols []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.wsConn == nil {
		c, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
		if err != nil {
			return err
		}
		b.wsConn = c
		go b.readLoop(c)
	}

	return b.subscribe(symbols)
}

func (b *BybitAdapter) subscribe(symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]interface{}, len(symbols))
	for i, s := range symbols {
		args[i] = "publicTrade." + s
	}
	return b.wsConn.WriteJSON(map[string]interface{}{
		"op":   "subscribe",
		"args": args,
	})
}

func (b *BybitAdapter) readLoop(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		b.mu.Lock()
		if b.wsConn == conn {
			b.wsConn = nil
		}
		b.mu.Unlock()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			b.logger.Warn("Trade stream closed", zap.Error(err))
			return
		}

		var event struct {
			Topic string `json:"topic"`
			Data  []struct {
				Price  string `json:"p"`
				Volume string `json:"v"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if !strings.HasPrefix(event.Topic, "publicTrade.") {
			continue
		}
		symbol := strings.TrimPrefix(event.Topic, "publicTrade.")

		for _, trade := range event.Data {
			price, err := strconv.ParseFloat(trade.Price, 64)
			if err != nil || price <= 0 {
				continue
			}
			volume, _ := strconv.ParseFloat(trade.Volume, 64)

			b.mu.Lock()
			b.prices[symbol] = lastPrice{price: price, at: time.Now()}
			callbacks := make([]func(string, float64, float64), len(b.callbacks))
			copy(callbacks, b.callbacks)
			b.mu.Unlock()

			for _, cb := range callbacks {
				cb(symbol, price, volume)
			}
		}
	}
}
