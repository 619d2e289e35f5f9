package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/GoPolymarket/proxy-trader/internal/stage"
)

// TelegramSink forwards terminal stage outcomes to a Telegram chat via the
// Bot API. Intermediate stages are skipped to keep the chat quiet.
type TelegramSink struct {
	botToken   string
	chatID     string
	httpClient *http.Client
	enabled    bool
	baseURL    string // overridable for testing; defaults to Telegram API
	log        *zap.Logger
}

// NewTelegramSink creates a TelegramSink. It is enabled only when both
// botToken and chatID are non-empty.
func NewTelegramSink(botToken, chatID string, log *zap.Logger) *TelegramSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramSink{
		botToken:   botToken,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		enabled:    botToken != "" && chatID != "",
		log:        log,
	}
}

// Enabled reports whether the sink is active.
func (s *TelegramSink) Enabled() bool { return s.enabled }

// StageChanged implements stage.Observer. Only completed/error stages reach
// the chat; delivery failures are logged, never propagated into the
// coordinator.
func (s *TelegramSink) StageChanged(st stage.Stage, message string) {
	var text string
	switch st {
	case stage.Completed:
		text = fmt.Sprintf("<b>Done</b>\n%s", message)
	case stage.Error:
		text = fmt.Sprintf("<b>Failed</b>\n%s", message)
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Send(ctx, text); err != nil {
		s.log.Warn("telegram notification failed", zap.Error(err))
	}
}

// Send posts a message to the configured Telegram chat.
func (s *TelegramSink) Send(ctx context.Context, msg string) error {
	if !s.enabled {
		return nil
	}

	endpoint := s.baseURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)
	}
	vals := url.Values{
		"chat_id":    {s.chatID},
		"text":       {msg},
		"parse_mode": {"HTML"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("notify: build request: %w", err)
	}
	req.URL.RawQuery = vals.Encode()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("notify: telegram %d: %s", resp.StatusCode, body.Description)
	}
	return nil
}
