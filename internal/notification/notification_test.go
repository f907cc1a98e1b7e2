package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

type sentMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type telegramStub struct {
	mu       sync.Mutex
	messages []sentMessage
	srv      *httptest.Server
}

func newTelegramStub(t *testing.T) *telegramStub {
	t.Helper()
	stub := &telegramStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg sentMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		stub.mu.Lock()
		stub.messages = append(stub.messages, msg)
		stub.mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func (s *telegramStub) all() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *telegramStub) {
	t.Helper()
	stub := newTelegramStub(t)
	m := NewManager(cfg, zerolog.Nop())
	m.sender.SetBaseURL(stub.srv.URL)
	return m, stub
}

func TestManagerRoutesChannels(t *testing.T) {
	m, stub := newTestManager(t, Config{
		Enabled:     true,
		BotToken:    "token",
		ChatID:      "-100",
		AdminChatID: "-200",
	})

	m.Broadcast("entry filled")
	m.SendOperator("sell failed")
	m.Stop()

	got := stub.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].ChatID != "-100" || got[0].Text != "entry filled" {
		t.Errorf("broadcast delivery = %+v", got[0])
	}
	if got[1].ChatID != "-200" || got[1].Text != "sell failed" {
		t.Errorf("operator delivery = %+v", got[1])
	}
}

func TestManagerAdminFallsBackToBroadcastChat(t *testing.T) {
	m, stub := newTestManager(t, Config{
		Enabled:  true,
		BotToken: "token",
		ChatID:   "-100",
	})

	m.SendOperator("escalation")
	m.Stop()

	got := stub.all()
	if len(got) != 1 || got[0].ChatID != "-100" {
		t.Errorf("expected fallback to broadcast chat, got %+v", got)
	}
}

func TestManagerDisabledDropsSilently(t *testing.T) {
	m, stub := newTestManager(t, Config{
		Enabled:  false,
		BotToken: "token",
		ChatID:   "-100",
	})

	m.Broadcast("should not send")
	m.Stop()

	if got := stub.all(); len(got) != 0 {
		t.Errorf("disabled manager delivered %d messages", len(got))
	}
}

func TestTelegramSenderRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sender := NewTelegramSender("token")
	sender.SetBaseURL(srv.URL)

	if err := sender.Send(context.Background(), "-100", "hello"); err == nil {
		t.Error("expected error for 403 response")
	}
}
