package kiwoom

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// feedServer is a scripted websocket gateway: it validates the login
// handshake, then relays received frames to inbound and accepts frames to
// push from the test body.
type feedServer struct {
	t        *testing.T
	srv      *httptest.Server
	inbound  chan []byte // frames the client sent (excluding login)
	outbound chan []byte // frames for the server to push
	echoRaw  bool        // echo inbound bytes back verbatim (ping test)
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{
		t:        t,
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, 16),
	}

	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// First frame must be the login handshake.
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var login map[string]string
		if err := json.Unmarshal(msg, &login); err != nil || login["trnm"] != FrameLogin {
			t.Errorf("expected LOGIN handshake, got %s", msg)
			return
		}
		if login["token"] == "" {
			t.Error("login frame missing token")
		}
		ack := `{"trnm":"LOGIN","return_code":0,"return_msg":"OK"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(ack)); err != nil {
			return
		}

		go func() {
			for frame := range fs.outbound {
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fs.inbound <- msg
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *feedServer) push(frame string) {
	fs.outbound <- []byte(frame)
}

func (fs *feedServer) nextInbound(timeout time.Duration) ([]byte, bool) {
	select {
	case msg := <-fs.inbound:
		return msg, true
	case <-time.After(timeout):
		return nil, false
	}
}

func startTestStream(t *testing.T, fs *feedServer) *Stream {
	t.Helper()
	s := NewStream(fs.wsURL(), "test-token", nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start stream: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// waitSnapshot polls until cond accepts the symbol's snapshot or the
// deadline passes.
func waitSnapshot(t *testing.T, s *Stream, code string, cond func(MarketSnapshot) bool) MarketSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := s.GetSnapshot(code); ok && cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, _ := s.GetSnapshot(code)
	t.Fatalf("snapshot condition never met, last: %+v", snap)
	return MarketSnapshot{}
}

func TestStreamSubscribeSendsRegistration(t *testing.T) {
	fs := newFeedServer(t)
	s := startTestStream(t, fs)

	s.Subscribe([]string{"005930", "000660"})

	msg, ok := fs.nextInbound(2 * time.Second)
	if !ok {
		t.Fatal("no registration frame received")
	}

	var reg struct {
		TrNm    string `json:"trnm"`
		GroupNo string `json:"grp_no"`
		Refresh string `json:"refresh"`
		Data    []struct {
			Item []string `json:"item"`
			Type []string `json:"type"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &reg); err != nil {
		t.Fatalf("parse registration: %v", err)
	}
	if reg.TrNm != FrameReg {
		t.Errorf("trnm = %q, want REG", reg.TrNm)
	}
	if reg.GroupNo != "1" || reg.Refresh != "1" {
		t.Errorf("grp_no/refresh = %q/%q, want 1/1", reg.GroupNo, reg.Refresh)
	}
	if len(reg.Data) != 1 || len(reg.Data[0].Item) != 2 {
		t.Fatalf("unexpected registration data: %+v", reg.Data)
	}
	if reg.Data[0].Type[0] != RealTypeTrade || reg.Data[0].Type[1] != RealTypeDepth {
		t.Errorf("types = %v, want [0B 0D]", reg.Data[0].Type)
	}

	// Re-subscribing the same codes must not send another frame.
	s.Subscribe([]string{"005930", "000660"})
	if msg, ok := fs.nextInbound(200 * time.Millisecond); ok {
		t.Errorf("duplicate subscribe sent a frame: %s", msg)
	}
}

func TestStreamEchoesPingVerbatim(t *testing.T) {
	fs := newFeedServer(t)
	startTestStream(t, fs)

	// The gateway's PING carries opaque fields that must round-trip
	// unchanged.
	ping := `{"trnm":"PING","seq":"42","extra":"opaque"}`
	fs.push(ping)

	echo, ok := fs.nextInbound(2 * time.Second)
	if !ok {
		t.Fatal("no ping echo received")
	}
	if string(echo) != ping {
		t.Errorf("echo = %s, want verbatim %s", echo, ping)
	}
}

func TestStreamMergesTradeAndDepthFrames(t *testing.T) {
	fs := newFeedServer(t)
	s := startTestStream(t, fs)
	s.Subscribe([]string{"005930"})

	// Trade tick: price arrives sign-prefixed, intensity plain.
	fs.push(`{"trnm":"REAL","data":[{"item":"005930","type":"0B","values":{"10":"-70000","228":"120.5"}}]}`)
	snap := waitSnapshot(t, s, "005930", func(m MarketSnapshot) bool { return m.LastPrice == 70000 })
	if snap.TradeIntensity != 120.5 {
		t.Errorf("TradeIntensity = %v, want 120.5", snap.TradeIntensity)
	}

	// Depth update must not disturb trade fields.
	fs.push(`{"trnm":"REAL","data":[{"item":"005930","type":"0D","values":{"121":"1500","125":"500"}}]}`)
	snap = waitSnapshot(t, s, "005930", func(m MarketSnapshot) bool { return m.AskDepthTotal == 1500 })
	if snap.BidDepthTotal != 500 {
		t.Errorf("BidDepthTotal = %v, want 500", snap.BidDepthTotal)
	}
	if snap.LastPrice != 70000 || snap.TradeIntensity != 120.5 {
		t.Errorf("depth frame disturbed trade fields: %+v", snap)
	}

	// Partial trade tick updates only the fields present.
	fs.push(`{"trnm":"REAL","data":[{"item":"005930","type":"0B","values":{"10":"+70100"}}]}`)
	snap = waitSnapshot(t, s, "005930", func(m MarketSnapshot) bool { return m.LastPrice == 70100 })
	if snap.TradeIntensity != 120.5 {
		t.Errorf("partial frame cleared intensity: %v", snap.TradeIntensity)
	}
	if snap.AskDepthTotal != 1500 || snap.BidDepthTotal != 500 {
		t.Errorf("partial frame cleared depth: %+v", snap)
	}
}

func TestStreamSkipsMalformedFrames(t *testing.T) {
	fs := newFeedServer(t)
	s := startTestStream(t, fs)

	fs.push(`this is not json`)
	fs.push(`{"trnm":"REAL","data":[{"item":"005930","type":"0B","values":{"10":"notanumber"}}]}`)
	fs.push(`{"trnm":"REAL","data":[{"item":"005930","type":"0B","values":{"10":"70000"}}]}`)

	snap := waitSnapshot(t, s, "005930", func(m MarketSnapshot) bool { return m.LastPrice == 70000 })
	if snap.LastPrice != 70000 {
		t.Errorf("LastPrice = %v, want 70000", snap.LastPrice)
	}
}

func TestStreamHealthReflectsFrameArrival(t *testing.T) {
	fs := newFeedServer(t)
	s := startTestStream(t, fs)

	fs.push(`{"trnm":"REAL","data":[{"item":"005930","type":"0B","values":{"10":"70000"}}]}`)
	waitSnapshot(t, s, "005930", func(m MarketSnapshot) bool { return m.LastPrice == 70000 })

	if !s.Healthy(time.Second) {
		t.Error("expected healthy right after a frame")
	}
	if s.Healthy(0) {
		t.Error("zero staleness window must report stale")
	}

	s.Close()
	// Closing flips running; health must fail regardless of recency.
	deadline := time.Now().Add(time.Second)
	for s.Healthy(time.Minute) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Healthy(time.Minute) {
		t.Error("closed stream must not report healthy")
	}
}

func TestStreamUnknownSymbolHasNoSnapshot(t *testing.T) {
	fs := newFeedServer(t)
	s := startTestStream(t, fs)

	if _, ok := s.GetSnapshot("999999"); ok {
		t.Error("expected ok=false for a symbol with no frames")
	}
}
