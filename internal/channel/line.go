package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
)

// Dispatcher routes a decoded envelope into the reply pipeline. Dispatch
// must return quickly: the webhook acknowledgement is sent as soon as it
// does, long before any inference completes.
type Dispatcher interface {
	Dispatch(env domain.Envelope)
}

// LineWebhook is the HTTP boundary: it verifies inbound signatures, decodes
// envelopes, hands events to the dispatcher, and acknowledges immediately.
type LineWebhook struct {
	host           string
	port           int
	path           string
	secret         []byte
	dispatcher     Dispatcher
	metricsEnabled bool
	logger         *slog.Logger
	server         *http.Server
}

type LineWebhookConfig struct {
	Host           string
	Port           int
	Path           string // callback URL path (default: /callback)
	Secret         string // channel secret for signature verification
	Dispatcher     Dispatcher
	MetricsEnabled bool
	Logger         *slog.Logger
}

func NewLineWebhook(cfg LineWebhookConfig) *LineWebhook {
	if cfg.Path == "" {
		cfg.Path = "/callback"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	return &LineWebhook{
		host:           cfg.Host,
		port:           cfg.Port,
		path:           cfg.Path,
		secret:         []byte(cfg.Secret),
		dispatcher:     cfg.Dispatcher,
		metricsEnabled: cfg.MetricsEnabled,
		logger:         cfg.Logger,
	}
}

// Start runs the webhook HTTP server until ctx is cancelled.
func (l *LineWebhook) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+l.path, l.handleCallback)
	mux.HandleFunc("GET /{$}", l.handleLiveness)
	if l.metricsEnabled {
		mux.HandleFunc("GET /metrics", metrics.Collector.Handler())
	}

	l.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", l.host, l.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	l.logger.Info("webhook server starting", "addr", l.server.Addr, "path", l.path)

	errCh := make(chan error, 1)
	go func() {
		if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return l.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (l *LineWebhook) handleLiveness(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(rw, "linerelay is running")
}

// handleCallback accepts a webhook delivery. Once the signature checks out
// the response is 200 "OK" no matter what happens to the individual events:
// the acknowledgement and the replies travel independent paths.
func (l *LineWebhook) handleCallback(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	sig := r.Header.Get("X-Line-Signature")
	if !VerifySignature(body, sig, l.secret) {
		metrics.SignatureRejects.Inc()
		l.logger.Warn("invalid webhook signature", "remote", r.RemoteAddr)
		http.Error(rw, "Invalid signature", http.StatusBadRequest)
		return
	}

	env, err := DecodeEnvelope(body)
	if err != nil {
		l.logger.Warn("bad webhook payload", "err", err)
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}

	metrics.EventsReceived.Add(int64(len(env.Events)))
	l.logger.Info("webhook received", "events", len(env.Events))

	l.dispatcher.Dispatch(env)

	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(rw, "OK")
}

// --- Webhook payload wire types ---

type webhookPayload struct {
	Destination string         `json:"destination"`
	Events      []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type       string          `json:"type"`
	ReplyToken string          `json:"replyToken"`
	Timestamp  int64           `json:"timestamp"` // ms since epoch
	Source     *webhookSource  `json:"source,omitempty"`
	Message    *webhookMessage `json:"message,omitempty"`
}

type webhookSource struct {
	Type    string `json:"type"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type webhookMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// DecodeEnvelope maps the platform payload onto the closed Event union.
// Anything that is not a text or image message becomes EventOther.
func DecodeEnvelope(body []byte) (domain.Envelope, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	env := domain.Envelope{Destination: payload.Destination}
	for _, we := range payload.Events {
		ev := domain.Event{
			Kind:       domain.EventOther,
			ReplyToken: we.ReplyToken,
			SourceID:   sourceID(we.Source),
			Timestamp:  time.UnixMilli(we.Timestamp),
		}
		if we.Type == "message" && we.Message != nil {
			switch we.Message.Type {
			case "text":
				ev.Kind = domain.EventText
				ev.Text = we.Message.Text
			case "image":
				ev.Kind = domain.EventImage
				ev.ContentID = we.Message.ID
			}
		}
		env.Events = append(env.Events, ev)
	}
	return env, nil
}

func sourceID(s *webhookSource) string {
	if s == nil {
		return ""
	}
	switch {
	case s.UserID != "":
		return s.UserID
	case s.GroupID != "":
		return s.GroupID
	default:
		return s.RoomID
	}
}
