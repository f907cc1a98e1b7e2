package kiwoom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrTransient marks transport-level failures: timeouts, connection resets,
// gateway 5xx responses. The caller may retry on its own next tick, but must
// not assume the underlying operation did not go through.
var ErrTransient = errors.New("transient transport failure")

// IsTransient reports whether err is a transport-level failure rather than a
// venue rejection.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// AlertSink receives operator-facing failure text. Rejections are alerted
// here directly so callers never have to re-derive failure messages.
type AlertSink interface {
	SendOperator(text string)
}

// ClientConfig holds the REST gateway settings.
type ClientConfig struct {
	BaseURL     string
	AppKey      string
	SecretKey   string
	CallTimeout time.Duration
}

// Client is the brokerage REST gateway: order placement, cancellation and
// cash queries, plus token lifecycle and the reference-index chart used by
// the regime detector.
type Client struct {
	cfg        ClientConfig
	token      string
	httpClient *http.Client
	alerts     AlertSink
	logger     zerolog.Logger
}

// NewClient creates a new REST gateway client. alerts may be nil.
func NewClient(cfg ClientConfig, alerts AlertSink, logger zerolog.Logger) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.CallTimeout},
		alerts:     alerts,
		logger:     logger.With().Str("component", "KiwoomClient").Logger(),
	}
}

// Authenticate issues a bearer token with the configured app key pair. The
// token is held for the rest of the session.
func (c *Client) Authenticate(ctx context.Context) error {
	payload := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     c.cfg.AppKey,
		"secretkey":  c.cfg.SecretKey,
	}

	body, err := c.post(ctx, "/oauth2/token", "", payload)
	if err != nil {
		return fmt.Errorf("token issue failed: %w", err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("token response parse failed: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("token issue failed: empty token in response")
	}

	c.token = resp.Token
	c.logger.Info().Msg("API token issued")
	return nil
}

// RevokeToken discards the session token. Failures are logged only; the
// session is ending anyway.
func (c *Client) RevokeToken(ctx context.Context) {
	if c.token == "" {
		return
	}
	payload := map[string]string{
		"appkey":    c.cfg.AppKey,
		"secretkey": c.cfg.SecretKey,
		"token":     c.token,
	}
	if _, err := c.post(ctx, "/oauth2/revoke", apiRevokeToken, payload); err != nil {
		c.logger.Warn().Err(err).Msg("token revoke failed")
		return
	}
	c.token = ""
	c.logger.Info().Msg("API token revoked")
}

// Token returns the active bearer token for the websocket login handshake.
func (c *Client) Token() string {
	return c.token
}

// PlaceOrder submits a market order. A non-positive quantity is rejected
// locally before any network call. A transport failure returns a wrapped
// ErrTransient; a venue rejection returns Success=false with the venue's
// reason and no error.
func (c *Client) PlaceOrder(ctx context.Context, code string, qty int, side Side) (OrderResult, error) {
	if qty <= 0 {
		c.logger.Warn().Str("code", code).Int("qty", qty).Msg("order skipped: non-positive quantity")
		return OrderResult{}, nil
	}

	apiID := apiBuyOrder
	if side == SideSell {
		apiID = apiSellOrder
	}

	ref := uuid.NewString()
	req := orderRequest{
		Exchange:  "SOR",
		StockCode: normalizeCode(code),
		Quantity:  strconv.Itoa(qty),
		UnitPrice: "",
		TradeType: "3", // market
		CondPrice: "",
	}

	body, err := c.post(ctx, "/api/dostk/ordr", apiID, req)
	if err != nil {
		c.logger.Error().Err(err).Str("code", code).Str("side", string(side)).Str("ref", ref).
			Msg("order transport failure")
		return OrderResult{ClientRef: ref}, err
	}

	result := normalizeOrderResponse(body)
	result.ClientRef = ref

	if !result.Success {
		c.logger.Warn().Str("code", code).Str("side", string(side)).Str("reason", result.Reason).
			Msg("order rejected by venue")
		c.alert(fmt.Sprintf("Order rejected: %s %s x%d (%s)", side, code, qty, result.Reason))
		return result, nil
	}

	c.logger.Info().Str("code", code).Str("side", string(side)).Int("qty", qty).
		Str("order_id", result.OrderID).Str("ref", ref).Msg("order accepted")
	return result, nil
}

// CancelOrder cancels remaining unfilled quantity of an order. qty 0 cancels
// everything still open.
func (c *Client) CancelOrder(ctx context.Context, code, orderID string, qty int) (OrderResult, error) {
	if qty < 0 {
		c.logger.Warn().Str("code", code).Int("qty", qty).Msg("cancel skipped: negative quantity")
		return OrderResult{}, nil
	}

	ref := uuid.NewString()
	req := cancelRequest{
		Exchange:    "SOR",
		StockCode:   normalizeCode(code),
		OrigOrderNo: orderID,
		Quantity:    strconv.Itoa(qty),
	}

	body, err := c.post(ctx, "/api/dostk/ordr", apiCancelOrder, req)
	if err != nil {
		c.logger.Error().Err(err).Str("code", code).Str("order_id", orderID).Str("ref", ref).
			Msg("cancel transport failure")
		return OrderResult{ClientRef: ref}, err
	}

	result := normalizeOrderResponse(body)
	result.ClientRef = ref

	if !result.Success {
		c.logger.Warn().Str("code", code).Str("order_id", orderID).Str("reason", result.Reason).
			Msg("cancel rejected by venue")
		c.alert(fmt.Sprintf("Cancel rejected: %s order %s (%s)", code, orderID, result.Reason))
		return result, nil
	}

	c.logger.Info().Str("code", code).Str("order_id", orderID).Int("qty", qty).
		Msg("cancel accepted")
	return result, nil
}

// AvailableCash queries the orderable cash balance in KRW.
func (c *Client) AvailableCash(ctx context.Context) (int64, error) {
	payload := map[string]string{"qry_tp": "3"}

	body, err := c.post(ctx, "/api/dostk/acnt", apiDeposit, payload)
	if err != nil {
		return 0, fmt.Errorf("deposit query failed: %w", err)
	}

	var resp depositResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("deposit response parse failed: %w", err)
	}

	cash, err := rawInt(resp.OrderableAmount)
	if err != nil {
		return 0, fmt.Errorf("deposit amount parse failed: %w", err)
	}
	return cash, nil
}

// IndexCloses fetches recent daily closes of a reference index, oldest
// first, at most count entries.
func (c *Client) IndexCloses(ctx context.Context, indexCode string, count int) ([]float64, error) {
	payload := map[string]string{"inds_cd": indexCode}

	body, err := c.post(ctx, "/api/dostk/chart", apiIndexChart, payload)
	if err != nil {
		return nil, fmt.Errorf("index chart fetch failed: %w", err)
	}

	var resp indexChartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("index chart parse failed: %w", err)
	}

	// The venue returns bars newest first.
	bars := resp.Bars
	if count > 0 && len(bars) > count {
		bars = bars[:count]
	}
	closes := make([]float64, 0, len(bars))
	for i := len(bars) - 1; i >= 0; i-- {
		v, err := rawFloat(bars[i].Close)
		if err != nil {
			continue
		}
		closes = append(closes, math.Abs(v))
	}
	return closes, nil
}

// CalcQuantity sizes an entry: budget is cash*ratio with 5% reserved for
// slippage and fees, quantity is the floor of budget over price. Returns 0
// for non-positive price or cash.
func CalcQuantity(price, cash, ratio float64) int {
	if price <= 0 || cash <= 0 {
		return 0
	}
	budget := cash * ratio * 0.95
	return int(budget / price)
}

// post sends an authenticated JSON request and returns the response body.
// Any transport failure or gateway 5xx is classified transient.
func (c *Client) post(ctx context.Context, path, apiID string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("request marshal failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("request build failed: %w", err)
	}

	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("cont-yn", "N")
	req.Header.Set("next-key", "")
	if apiID != "" {
		req.Header.Set("api-id", apiID)
	}
	if c.token != "" {
		req.Header.Set("authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransient, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: gateway returned %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (c *Client) alert(text string) {
	if c.alerts != nil {
		c.alerts.SendOperator(text)
	}
}

// normalizeOrderResponse collapses the venue's response variants into one
// OrderResult: the success code may arrive as return_code or rt_cd, numeric
// or quoted, and the order number as ord_no or odno.
func normalizeOrderResponse(body []byte) OrderResult {
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return OrderResult{Reason: fmt.Sprintf("unparseable response: %s", truncate(string(body), 120))}
	}

	code := rawString(resp.ReturnCode)
	if code == "" {
		code = rawString(resp.RtCd)
	}

	result := OrderResult{Success: code == "0"}
	if resp.OrdNo != "" {
		result.OrderID = resp.OrdNo
	} else {
		result.OrderID = resp.Odno
	}

	if !result.Success {
		reason := resp.ReturnMsg
		if reason == "" {
			reason = resp.Msg1
		}
		if reason == "" {
			reason = "no reason given"
		}
		result.Reason = reason
	}
	return result
}

// rawString decodes a JSON value that may be a quoted string or a bare
// number into its string form.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func rawInt(raw json.RawMessage) (int64, error) {
	s := rawString(raw)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseInt(s, 10, 64)
}

func rawFloat(raw json.RawMessage) (float64, error) {
	s := rawString(raw)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseFloat(s, 64)
}

// normalizeCode trims an instrument code to its 6-digit base form.
func normalizeCode(code string) string {
	if len(code) > 6 {
		return code[:6]
	}
	return code
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
