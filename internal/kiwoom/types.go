package kiwoom

import (
	"encoding/json"
	"time"
)

// Websocket frame names used by the market data gateway.
const (
	FrameLogin = "LOGIN"
	FramePing  = "PING"
	FrameReal  = "REAL"
	FrameReg   = "REG"
)

// Real-time data types pushed inside a REAL frame.
const (
	// RealTypeTrade carries trade-tick fields: current price and execution
	// intensity.
	RealTypeTrade = "0B"
	// RealTypeDepth carries order-book totals: ask and bid resting quantity.
	RealTypeDepth = "0D"
)

// Field IDs inside a REAL tuple's values map.
const (
	fieldCurrentPrice   = "10"
	fieldTradeIntensity = "228"
	fieldAskTotal       = "121"
	fieldBidTotal       = "125"
)

// wsFrame is the envelope of every message in either direction.
type wsFrame struct {
	TrNm       string      `json:"trnm"`
	Token      string      `json:"token,omitempty"`
	ReturnCode *int        `json:"return_code,omitempty"`
	ReturnMsg  string      `json:"return_msg,omitempty"`
	Data       []realTuple `json:"data,omitempty"`
}

// realTuple is one (symbol, type, fields) entry inside a REAL frame. Fields
// absent from the values map leave the corresponding snapshot field
// unchanged.
type realTuple struct {
	Item   string            `json:"item"`
	Type   string            `json:"type"`
	Values map[string]string `json:"values"`
}

// regItem is a registration entry inside a REG frame.
type regItem struct {
	Item []string `json:"item"`
	Type []string `json:"type"`
}

// regFrame is the outgoing subscription request.
type regFrame struct {
	TrNm    string    `json:"trnm"`
	GroupNo string    `json:"grp_no"`
	Refresh string    `json:"refresh"`
	Data    []regItem `json:"data"`
}

// loginFrame is the outgoing session handshake.
type loginFrame struct {
	TrNm  string `json:"trnm"`
	Token string `json:"token"`
}

// MarketSnapshot is the latest known state of one subscribed symbol. It is
// created on the first received frame and overwritten in place afterwards;
// staleness is detected via UpdatedAt, never via absence.
type MarketSnapshot struct {
	LastPrice      float64
	AskDepthTotal  float64
	BidDepthTotal  float64
	TradeIntensity float64
	UpdatedAt      time.Time
}

// Notional is the resting depth valued at the last price, used by the
// liquidity gate.
func (s MarketSnapshot) Notional() float64 {
	return (s.AskDepthTotal + s.BidDepthTotal) * s.LastPrice
}

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderResult is the single normalized shape for every order operation
// outcome, regardless of which response variant the venue returned.
type OrderResult struct {
	Success bool
	OrderID string
	// Reason carries the venue's human-readable rejection text when
	// Success is false.
	Reason string
	// ClientRef is the engine-side reference attached to the request.
	ClientRef string
}

// API identifiers for the order and account endpoints.
const (
	apiBuyOrder    = "kt10000"
	apiSellOrder   = "kt10001"
	apiCancelOrder = "kt10003"
	apiDeposit     = "kt00001"
	apiIndexChart  = "ka20006"
	apiRevokeToken = "au10002"
)

// orderRequest is the order placement payload. Market orders carry an empty
// unit price.
type orderRequest struct {
	Exchange  string `json:"dmst_stex_tp"`
	StockCode string `json:"stk_cd"`
	Quantity  string `json:"ord_qty"`
	UnitPrice string `json:"ord_uv"`
	TradeType string `json:"trde_tp"`
	CondPrice string `json:"cond_uv"`
}

// cancelRequest cancels remaining unfilled quantity of an order. "0" means
// cancel everything still open.
type cancelRequest struct {
	Exchange    string `json:"dmst_stex_tp"`
	StockCode   string `json:"stk_cd"`
	OrigOrderNo string `json:"orig_ord_no"`
	Quantity    string `json:"cncl_qty"`
}

// orderResponse covers the response-shape heterogeneity across venue API
// variants: the success code arrives as return_code or rt_cd, as number or
// string, and the order number as ord_no or odno.
type orderResponse struct {
	ReturnCode json.RawMessage `json:"return_code"`
	RtCd       json.RawMessage `json:"rt_cd"`
	ReturnMsg  string          `json:"return_msg"`
	Msg1       string          `json:"msg1"`
	OrdNo      string          `json:"ord_no"`
	Odno       string          `json:"odno"`
}

// depositResponse carries the orderable cash amount.
type depositResponse struct {
	OrderableAmount json.RawMessage `json:"ord_alow_amt"`
	ReturnMsg       string          `json:"return_msg"`
}

// tokenResponse is the OAuth token issue response.
type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresDt string `json:"expires_dt"`
}

// indexChartResponse carries daily bars of a reference index, newest first.
type indexChartResponse struct {
	Bars []indexBar `json:"inds_stkpc_lst"`
}

type indexBar struct {
	Close json.RawMessage `json:"cur_prc"`
	Date  string          `json:"dt"`
}
