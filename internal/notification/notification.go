// Package notification delivers trade alerts over Telegram. Two channels
// are used: a broadcast chat for signals, fills and exits, and an admin
// chat that only receives operational failures.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the Telegram bot credentials and target chats.
type Config struct {
	Enabled  bool
	BotToken string
	// ChatID is the broadcast channel.
	ChatID string
	// AdminChatID receives operator escalations. Falls back to ChatID when
	// empty.
	AdminChatID string
}

type message struct {
	chatID string
	text   string
}

// Manager queues messages and delivers them from a single background
// goroutine, so callers never block on the Telegram API. When the queue is
// full the message is dropped and logged.
type Manager struct {
	sender  *TelegramSender
	chatID  string
	adminID string
	enabled bool
	queue   chan message
	done    chan struct{}
	logger  zerolog.Logger
}

// NewManager builds a manager and starts its delivery goroutine. Stop must
// be called to flush and release it.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	admin := cfg.AdminChatID
	if admin == "" {
		admin = cfg.ChatID
	}
	m := &Manager{
		sender:  NewTelegramSender(cfg.BotToken),
		chatID:  cfg.ChatID,
		adminID: admin,
		enabled: cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		queue:   make(chan message, 128),
		done:    make(chan struct{}),
		logger:  logger.With().Str("component", "notification").Logger(),
	}
	go m.deliver()
	return m
}

// Broadcast sends text to the broadcast channel. Never blocks.
func (m *Manager) Broadcast(text string) {
	m.enqueue(m.chatID, text)
}

// SendOperator sends text to the admin channel. Never blocks.
func (m *Manager) SendOperator(text string) {
	m.enqueue(m.adminID, text)
}

func (m *Manager) enqueue(chatID, text string) {
	if !m.enabled || text == "" {
		return
	}
	select {
	case m.queue <- message{chatID: chatID, text: text}:
	default:
		m.logger.Warn().Msg("notification queue full, message dropped")
	}
}

// Stop drains queued messages and stops the delivery goroutine.
func (m *Manager) Stop() {
	close(m.queue)
	<-m.done
}

func (m *Manager) deliver() {
	defer close(m.done)
	for msg := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := m.sender.Send(ctx, msg.chatID, msg.text)
		cancel()
		if err != nil {
			m.logger.Error().Err(err).Msg("telegram delivery failed")
		}
	}
}

// TelegramSender posts messages through the Telegram bot API.
type TelegramSender struct {
	botToken string
	baseURL  string
	client   *http.Client
}

// NewTelegramSender creates a sender for the given bot token.
func NewTelegramSender(botToken string) *TelegramSender {
	return &TelegramSender{
		botToken: botToken,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API host, used in tests.
func (t *TelegramSender) SetBaseURL(u string) { t.baseURL = u }

// Send delivers one message to one chat.
func (t *TelegramSender) Send(ctx context.Context, chatID, text string) error {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}
