package kiwoom

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"kospi-sniper-bot/internal/metrics"
)

// Stream maintains the long-lived market data connection: it performs the
// login handshake, keeps the session alive by echoing PING frames, and
// merges pushed REAL tuples into a per-symbol snapshot table.
//
// The read loop is the only writer of snapshot values; everyone else only
// reads them. There is no auto-reconnect: an unrecoverable error ends the
// read loop, Healthy flips false, and the control loop degrades to skipping
// stale symbols.
type Stream struct {
	url    string
	token  string
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu         sync.RWMutex
	snapshots  map[string]MarketSnapshot
	subscribed map[string]struct{}

	sendCh    chan []byte
	lastFrame atomic.Int64
	running   atomic.Bool
	conn      *websocket.Conn

	// onError surfaces asynchronous subscribe/write failures without
	// blocking the caller.
	onError func(error)
}

// NewStream creates a feed client for the given websocket endpoint. The
// token must already be issued. onError may be nil.
func NewStream(url, token string, onError func(error), logger zerolog.Logger) *Stream {
	return &Stream{
		url:        url,
		token:      token,
		dialer:     websocket.DefaultDialer,
		logger:     logger.With().Str("component", "KiwoomStream").Logger(),
		snapshots:  make(map[string]MarketSnapshot),
		subscribed: make(map[string]struct{}),
		sendCh:     make(chan []byte, 64),
		onError:    onError,
	}
}

// Start opens the connection, sends the login handshake and starts the read
// and write loops. It returns once the connection is established; the loops
// run until the connection dies or ctx is cancelled.
func (s *Stream) Start(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("feed dial failed: %w", err)
	}

	login, err := json.Marshal(loginFrame{TrNm: FrameLogin, Token: s.token})
	if err != nil {
		conn.Close()
		return fmt.Errorf("login frame marshal failed: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, login); err != nil {
		conn.Close()
		return fmt.Errorf("login handshake failed: %w", err)
	}

	s.conn = conn
	s.running.Store(true)
	s.lastFrame.Store(time.Now().UnixNano())

	go s.writeLoop(ctx)
	go s.readLoop(ctx)

	s.logger.Info().Str("url", s.url).Msg("market feed connected")
	return nil
}

// Subscribe registers any not-yet-subscribed codes with the gateway. It is
// idempotent and safe to call concurrently with the read loop: the
// registration frame is dispatched into the write loop without blocking.
func (s *Stream) Subscribe(codes []string) {
	if len(codes) == 0 {
		return
	}

	s.mu.Lock()
	var fresh []string
	for _, code := range codes {
		code = normalizeCode(code)
		if _, ok := s.subscribed[code]; ok {
			continue
		}
		s.subscribed[code] = struct{}{}
		fresh = append(fresh, code)
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return
	}

	frame, err := json.Marshal(regFrame{
		TrNm:    FrameReg,
		GroupNo: "1",
		Refresh: "1",
		Data: []regItem{{
			Item: fresh,
			Type: []string{RealTypeTrade, RealTypeDepth},
		}},
	})
	if err != nil {
		s.surfaceError(fmt.Errorf("registration frame marshal failed: %w", err))
		return
	}

	select {
	case s.sendCh <- frame:
		s.logger.Info().Strs("codes", fresh).Msg("subscribed symbols")
	default:
		s.surfaceError(fmt.Errorf("feed send queue full, %d symbols not registered", len(fresh)))
	}
}

// GetSnapshot returns the latest values for a symbol, or ok=false if no
// frame has ever been received for it.
func (s *Stream) GetSnapshot(code string) (MarketSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[normalizeCode(code)]
	return snap, ok
}

// Healthy reports feed liveness: whether any frame at all arrived within
// the staleness window. Per-symbol freshness is the caller's concern.
func (s *Stream) Healthy(maxStaleness time.Duration) bool {
	if !s.running.Load() {
		return false
	}
	last := time.Unix(0, s.lastFrame.Load())
	return time.Since(last) <= maxStaleness
}

// Close tears the connection down.
func (s *Stream) Close() {
	if s.running.CompareAndSwap(true, false) {
		if s.conn != nil {
			s.conn.Close()
		}
	}
}

func (s *Stream) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.sendCh:
			if !s.running.Load() {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.surfaceError(fmt.Errorf("feed write failed: %w", err))
				return
			}
		}
	}
}

func (s *Stream) readLoop(ctx context.Context) {
	defer func() {
		s.running.Store(false)
		s.conn.Close()
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info().Msg("feed connection closed")
			} else {
				s.logger.Error().Err(err).Msg("feed read failed, abandoning stream")
			}
			return
		}

		s.lastFrame.Store(time.Now().UnixNano())

		var frame wsFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			s.logger.Warn().Err(err).Msg("malformed frame skipped")
			continue
		}

		switch frame.TrNm {
		case FramePing:
			// Echo verbatim to keep the session alive.
			select {
			case s.sendCh <- msg:
			default:
				s.logger.Warn().Msg("send queue full, ping echo dropped")
			}
		case FrameLogin:
			if frame.ReturnCode != nil && *frame.ReturnCode != 0 {
				s.logger.Error().Int("code", *frame.ReturnCode).Str("msg", frame.ReturnMsg).
					Msg("feed login rejected, abandoning stream")
				return
			}
			s.logger.Info().Msg("feed login confirmed")
		case FrameReal:
			s.applyTuples(frame.Data)
		default:
			// Acks for REG and other control frames carry no data.
		}
	}
}

// applyTuples merges pushed field updates into the snapshot table. Fields
// absent from a tuple leave the existing values unchanged.
func (s *Stream) applyTuples(tuples []realTuple) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tuples {
		code := normalizeCode(t.Item)
		if code == "" {
			continue
		}
		snap := s.snapshots[code]
		metrics.IncFeedFrame(t.Type)

		switch t.Type {
		case RealTypeTrade:
			if v, ok := fieldFloat(t.Values, fieldCurrentPrice); ok {
				snap.LastPrice = math.Abs(v)
			}
			if v, ok := fieldFloat(t.Values, fieldTradeIntensity); ok {
				snap.TradeIntensity = v
			}
		case RealTypeDepth:
			if v, ok := fieldFloat(t.Values, fieldAskTotal); ok {
				snap.AskDepthTotal = math.Abs(v)
			}
			if v, ok := fieldFloat(t.Values, fieldBidTotal); ok {
				snap.BidDepthTotal = math.Abs(v)
			}
		default:
			continue
		}

		snap.UpdatedAt = now
		s.snapshots[code] = snap
	}
}

func (s *Stream) surfaceError(err error) {
	s.logger.Error().Err(err).Msg("feed error")
	if s.onError != nil {
		s.onError(err)
	}
}

// fieldFloat parses a numeric field that may carry a sign prefix.
func fieldFloat(values map[string]string, key string) (float64, bool) {
	raw, ok := values[key]
	if !ok {
		return 0, false
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(raw, "+"), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
