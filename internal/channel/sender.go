package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// The platform rejects text messages longer than this.
const maxReplyChars = 5000

// Sender wraps the platform reply API. Reply tokens are single-use and
// time-limited, so Send is one attempt: a rejected or expired token is a
// loggable outcome, never a retry.
type Sender struct {
	apiBase string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

type SenderConfig struct {
	APIBase string // e.g. https://api.line.me
	Token   string // channel access token
	Client  *http.Client
	Logger  *slog.Logger
}

func NewSender(cfg SenderConfig) *Sender {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Sender{
		apiBase: cfg.APIBase,
		token:   cfg.Token,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

var _ domain.ReplySender = (*Sender)(nil)

type replyRequest struct {
	ReplyToken string         `json:"replyToken"`
	Messages   []replyMessage `json:"messages"`
}

type replyMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Sender) Send(ctx context.Context, replyToken, text string) domain.ReplyOutcome {
	text = truncate(text, maxReplyChars)

	payload := replyRequest{
		ReplyToken: replyToken,
		Messages:   []replyMessage{{Type: "text", Text: text}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return s.failed(fmt.Sprintf("marshal: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.apiBase+"/v2/bot/message/reply", bytes.NewReader(body))
	if err != nil {
		return s.failed(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.client.Do(req)
	if err != nil {
		return s.failed(fmt.Sprintf("send: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		detail := fmt.Sprintf("reply API %d: %s", resp.StatusCode, string(respBody))
		// A used or expired token is the normal cost of a slow pipeline,
		// not an error condition.
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(respBody), "Invalid reply token") {
			s.logger.Info("reply token no longer valid", "detail", detail)
			metrics.RepliesFailed.Inc()
			return domain.ReplyOutcome{Delivered: false, Detail: detail}
		}
		return s.failed(detail)
	}

	metrics.RepliesSent.Inc()
	return domain.ReplyOutcome{Delivered: true}
}

func (s *Sender) failed(detail string) domain.ReplyOutcome {
	metrics.RepliesFailed.Inc()
	s.logger.Error("reply send failed", "detail", detail)
	return domain.ReplyOutcome{Delivered: false, Detail: detail}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
