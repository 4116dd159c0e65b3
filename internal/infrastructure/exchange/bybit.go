package exchange

import (
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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/account_monitor/internal/domain"
)

const (
	BybitBaseURL      = "https://api.bybit.com"
	BybitPrivateWSURL = "wss://stream.bybit.com/v5/private"

	recvWindow = 5000
)

// BybitAdapter serves two roles: the snapshot provider for reconciliation
// (signed REST reads of wallet balances and the position list) and the fill
// event source (private WebSocket execution stream).
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	wsURL     string
	client    *http.Client
	log       *zap.Logger

	mu            sync.Mutex
	wsConn        *websocket.Conn
	fillCallbacks []func(fill domain.Fill)
}

func NewBybitAdapter(apiKey, apiSecret, baseURL, wsURL string, log *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	if wsURL == "" {
		wsURL = BybitPrivateWSURL
	}
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		wsURL:     wsURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// --- REST ---

func (b *BybitAdapter) sign(params string, timestamp int64) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) sendRequest(ctx context.Context, path string) ([]byte, error) {
	timestamp := time.Now().UnixMilli()

	var paramsStr string
	if idx := strings.Index(path, "?"); idx != -1 {
		paramsStr = path[idx+1:]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(paramsStr, timestamp))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("bybit API error: %s", string(body))
	}
	return body, nil
}

// FetchSnapshot pulls the full account ground truth: unified wallet balances,
// open linear positions, and the account margin ratio.
func (b *BybitAdapter) FetchSnapshot(ctx context.Context) (*domain.AccountSnapshot, error) {
	snap := &domain.AccountSnapshot{
		Balances:  make(map[string]domain.Balance),
		Positions: make(map[string]domain.SnapshotPosition),
		Timestamp: time.Now(),
	}

	if err := b.fetchBalances(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to fetch wallet balance: %w", err)
	}
	if err := b.fetchPositions(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to fetch positions: %w", err)
	}
	return snap, nil
}

func (b *BybitAdapter) fetchBalances(ctx context.Context, snap *domain.AccountSnapshot) error {
	resp, err := b.sendRequest(ctx, "/v5/account/wallet-balance?accountType=UNIFIED")
	if err != nil {
		return err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				AccountIMRate string `json:"accountIMRate"`
				Coin          []struct {
					Coin          string `json:"coin"`
					WalletBalance string `json:"walletBalance"`
					Locked        string `json:"locked"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	if result.RetCode != 0 {
		return fmt.Errorf("bybit wallet-balance error: %s", result.RetMsg)
	}

	for _, account := range result.Result.List {
		if account.AccountIMRate != "" {
			snap.MarginRatio = parseDecimal(account.AccountIMRate)
		}
		for _, coin := range account.Coin {
			total := parseDecimal(coin.WalletBalance)
			locked := parseDecimal(coin.Locked)
			snap.Balances[coin.Coin] = domain.Balance{
				Asset:      coin.Coin,
				Free:       total.Sub(locked),
				Locked:     locked,
				Total:      total,
				LastUpdate: snap.Timestamp,
			}
		}
	}
	return nil
}

func (b *BybitAdapter) fetchPositions(ctx context.Context, snap *domain.AccountSnapshot) error {
	resp, err := b.sendRequest(ctx, "/v5/position/list?category=linear&settleCoin=USDT&limit=200")
	if err != nil {
		return err
	}

	var result struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  struct {
			List []struct {
				Symbol   string `json:"symbol"`
				Side     string `json:"side"`
				Size     string `json:"size"`
				AvgPrice string `json:"avgPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return err
	}
	if result.RetCode != 0 {
		return fmt.Errorf("bybit position list error: %s", result.RetMsg)
	}

	for _, raw := range result.Result.List {
		qty := parseDecimal(raw.Size)
		if raw.Side == "Sell" {
			qty = qty.Neg()
		}
		snap.Positions[raw.Symbol] = domain.SnapshotPosition{
			Quantity:   qty,
			EntryPrice: parseDecimal(raw.AvgPrice),
		}
	}
	return nil
}

// --- Private WebSocket (execution stream) ---

// OnFill registers a callback invoked for every execution received on the
// private stream. Register before Start.
func (b *BybitAdapter) OnFill(callback func(fill domain.Fill)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fillCallbacks = append(b.fillCallbacks, callback)
}

// Start connects the private stream and keeps it connected until ctx is
// done, reconnecting with a fixed delay on any failure.
func (b *BybitAdapter) Start(ctx context.Context) {
	for {
		if err := b.runOnce(ctx); err != nil {
			b.log.Warn("private stream disconnected", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (b *BybitAdapter) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	b.mu.Lock()
	b.wsConn = conn
	b.mu.Unlock()

	if err := b.authenticate(conn); err != nil {
		return err
	}

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []interface{}{"execution"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	b.log.Info("private execution stream connected")

	// Bybit drops idle private connections; ping every 20s.
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.mu.Lock()
				err := conn.WriteJSON(map[string]string{"op": "ping"})
				b.mu.Unlock()
				if err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		b.handleMessage(message)
	}
}

func (b *BybitAdapter) authenticate(conn *websocket.Conn) error {
	expires := time.Now().Add(10 * time.Second).UnixMilli()
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	fmt.Fprintf(h, "GET/realtime%d", expires)

	auth := map[string]interface{}{
		"op":   "auth",
		"args": []interface{}{b.apiKey, expires, hex.EncodeToString(h.Sum(nil))},
	}
	return conn.WriteJSON(auth)
}

func (b *BybitAdapter) handleMessage(message []byte) {
	var msg struct {
		Topic string `json:"topic"`
		Data  []struct {
			ExecID    string `json:"execId"`
			Symbol    string `json:"symbol"`
			Side      string `json:"side"`
			ExecQty   string `json:"execQty"`
			ExecPrice string `json:"execPrice"`
			ExecFee   string `json:"execFee"`
			FeeRate   string `json:"feeRate"`
			ExecTime  string `json:"execTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		b.log.Debug("unparseable stream message", zap.Error(err))
		return
	}
	if msg.Topic != "execution" {
		return
	}

	for _, raw := range msg.Data {
		side := domain.SideBuy
		if strings.EqualFold(raw.Side, "Sell") {
			side = domain.SideSell
		}

		ts := time.Now()
		if ms, err := strconv.ParseInt(raw.ExecTime, 10, 64); err == nil {
			ts = time.UnixMilli(ms)
		}

		fill := domain.Fill{
			ID:          raw.ExecID,
			Symbol:      raw.Symbol,
			Side:        side,
			Quantity:    parseDecimal(raw.ExecQty),
			Price:       parseDecimal(raw.ExecPrice),
			Fee:         parseDecimal(raw.ExecFee),
			FeeCurrency: "USDT",
			Timestamp:   ts,
		}

		b.mu.Lock()
		callbacks := b.fillCallbacks
		b.mu.Unlock()
		for _, cb := range callbacks {
			cb(fill)
		}
	}
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
