// Package exchange implements the Bybit v5 REST and WebSocket clients.
//
// The REST client (Client) talks to the Bybit v5 API:
//   - PlaceOrder:       POST /v5/order/create           — place an option order
//   - CancelOrder:      POST /v5/order/cancel           — cancel by order ID
//   - GetTickers:       GET  /v5/market/tickers         — public ticker reads
//   - GetInstruments:   GET  /v5/market/instruments-info — option chain listing
//   - GetWalletBalance: GET  /v5/account/wallet-balance — unified account balance
//
// Every request is rate-limited via per-category TokenBuckets, automatically
// retried on 5xx errors, and private endpoints carry HMAC-signed X-BAPI-*
// headers produced by Signer.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"optionflow/internal/config"
	"optionflow/pkg/types"
)

// OrderRequest is a single order for PlaceOrder. Qty and Price are decimal
// strings, exactly as the venue expects them.
type OrderRequest struct {
	Symbol      string
	Side        types.Side
	OrderType   types.OrderType
	Qty         string
	Price       string // required for Limit
	OrderLinkID string // generated when empty
}

// OrderResult is the result block of a create/cancel order response.
type OrderResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	OrderStatus string `json:"orderStatus,omitempty"`
}

// OrderResponse is the venue's envelope for order endpoints. Accepted reports
// whether the venue took the order: retCode must be 0 and, when the venue
// echoes an order status, it must not be a rejection.
type OrderResponse struct {
	RetCode int         `json:"retCode"`
	RetMsg  string      `json:"retMsg"`
	Result  OrderResult `json:"result"`
}

// Accepted reports whether the order was taken by the venue. An empty
// orderStatus with retCode 0 counts as accepted; the create endpoint often
// omits the status.
func (r *OrderResponse) Accepted() bool {
	if r.RetCode != 0 {
		return false
	}
	switch strings.ToLower(r.Result.OrderStatus) {
	case "cancelled", "rejected":
		return false
	}
	return true
}

// Ticker is one row from GET /v5/market/tickers. Prices stay strings because
// the venue omits fields it has no value for.
type Ticker struct {
	Symbol     string `json:"symbol"`
	LastPrice  string `json:"lastPrice"`
	MarkPrice  string `json:"markPrice"`
	IndexPrice string `json:"indexPrice"`
	Bid1Price  string `json:"bid1Price"`
	Ask1Price  string `json:"ask1Price"`
}

// Instrument is one row from GET /v5/market/instruments-info.
type Instrument struct {
	Symbol       string `json:"symbol"`
	BaseCoin     string `json:"baseCoin"`
	OptionsType  string `json:"optionsType"`
	Status       string `json:"status"`
	DeliveryTime string `json:"deliveryTime"`
}

type listEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string `json:"category"`
		List     []T    `json:"list"`
	} `json:"result"`
}

// Client is the Bybit v5 REST API client.
// It wraps a resty HTTP client with rate limiting, retry, and auth.
type Client struct {
	http   *resty.Client
	signer *Signer
	rl     *RateLimiter
	dryRun bool // when true, mutating methods return fake success without HTTP calls
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.BybitConfig, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.RESTBase).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		signer: NewSigner(cfg.APIKey, cfg.APISecret, cfg.RecvWindow),
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		logger: logger.With("component", "bybit"),
	}
}

// PlaceOrder submits one option order. The symbol is normalized to the
// settlement-suffixed form before it goes out.
func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (*OrderResponse, error) {
	symbol := types.NormalizeOptionSymbol(order.Symbol)
	linkID := order.OrderLinkID
	if linkID == "" {
		linkID = "of-" + uuid.NewString()
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"symbol", symbol, "side", order.Side, "qty", order.Qty, "type", order.OrderType)
		return &OrderResponse{
			RetMsg: "OK",
			Result: OrderResult{OrderID: "dry-run-" + uuid.NewString(), OrderLinkID: linkID},
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	payload := map[string]string{
		"category":    "option",
		"symbol":      symbol,
		"side":        order.Side.Venue(),
		"orderType":   string(order.OrderType),
		"qty":         order.Qty,
		"orderLinkId": linkID,
	}
	if order.OrderType == types.OrderLimit {
		payload["price"] = order.Price
	}

	var result OrderResponse
	if err := c.postSigned(ctx, "/v5/order/create", payload, &result); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	c.logger.Info("order placed",
		"symbol", symbol, "side", order.Side, "qty", order.Qty,
		"ret_code", result.RetCode, "order_id", result.Result.OrderID)
	return &result, nil
}

// CancelOrder cancels one order by venue order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (*OrderResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "symbol", symbol, "order_id", orderID)
		return &OrderResponse{RetMsg: "OK", Result: OrderResult{OrderID: orderID}}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	payload := map[string]string{
		"category": "option",
		"symbol":   types.NormalizeOptionSymbol(symbol),
		"orderId":  orderID,
	}
	var result OrderResponse
	if err := c.postSigned(ctx, "/v5/order/cancel", payload, &result); err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	return &result, nil
}

func (c *Client) postSigned(ctx context.Context, path string, payload map[string]string, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.signer.Headers(string(body))).
		SetBody(json.RawMessage(body)).
		SetResult(result).
		Post(path)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// GetTickers fetches tickers for a category, optionally filtered to one
// symbol. Options require baseCoin when symbol is empty.
func (c *Client) GetTickers(ctx context.Context, category, symbol, baseCoin string) ([]Ticker, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}

	var result listEnvelope[Ticker]
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("category", category).
		SetResult(&result)
	if symbol != "" {
		req.SetQueryParam("symbol", symbol)
	}
	if baseCoin != "" {
		req.SetQueryParam("baseCoin", baseCoin)
	}
	resp, err := req.Get("/v5/market/tickers")
	if err != nil {
		return nil, fmt.Errorf("get tickers: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get tickers: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("get tickers: ret_code %d: %s", result.RetCode, result.RetMsg)
	}
	return result.Result.List, nil
}

// LastPrice returns the best available price for a symbol: lastPrice when
// present, then markPrice, then indexPrice.
func (c *Client) LastPrice(ctx context.Context, category, symbol string) (float64, error) {
	tickers, err := c.GetTickers(ctx, category, symbol, "")
	if err != nil {
		return 0, err
	}
	if len(tickers) == 0 {
		return 0, fmt.Errorf("no ticker for %s", symbol)
	}
	t := tickers[0]
	for _, raw := range []string{t.LastPrice, t.MarkPrice, t.IndexPrice} {
		if raw == "" {
			continue
		}
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p <= 0 {
			continue
		}
		return p, nil
	}
	return 0, fmt.Errorf("ticker for %s has no usable price", symbol)
}

// GetInstruments lists option instruments for a base coin.
func (c *Client) GetInstruments(ctx context.Context, baseCoin string) ([]Instrument, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}

	var result listEnvelope[Instrument]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("category", "option").
		SetQueryParam("baseCoin", baseCoin).
		SetResult(&result).
		Get("/v5/market/instruments-info")
	if err != nil {
		return nil, fmt.Errorf("get instruments: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get instruments: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("get instruments: ret_code %d: %s", result.RetCode, result.RetMsg)
	}
	return result.Result.List, nil
}

// WalletBalance is the unified account total in USD terms.
type WalletBalance struct {
	TotalEquity     string `json:"totalEquity"`
	TotalWalletBal  string `json:"totalWalletBalance"`
	TotalMarginBal  string `json:"totalMarginBalance"`
	TotalAvailBal   string `json:"totalAvailableBalance"`
	AccountType     string `json:"accountType"`
	TotalPerpUPL    string `json:"totalPerpUPL"`
	AccountIMRate   string `json:"accountIMRate"`
	AccountMMRate   string `json:"accountMMRate"`
}

// GetWalletBalance fetches the unified account balance.
func (c *Client) GetWalletBalance(ctx context.Context) (*WalletBalance, error) {
	if c.dryRun {
		return &WalletBalance{AccountType: "UNIFIED", TotalEquity: "0"}, nil
	}
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("accountType", "UNIFIED")

	var result listEnvelope[WalletBalance]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.signer.Headers(query.Encode())).
		SetQueryParamsFromValues(query).
		SetResult(&result).
		Get("/v5/account/wallet-balance")
	if err != nil {
		return nil, fmt.Errorf("get wallet balance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get wallet balance: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.RetCode != 0 {
		return nil, fmt.Errorf("get wallet balance: ret_code %d: %s", result.RetCode, result.RetMsg)
	}
	if len(result.Result.List) == 0 {
		return nil, fmt.Errorf("get wallet balance: empty result")
	}
	return &result.Result.List[0], nil
}
