package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"linerelay/internal/domain"
)

const (
	claudeAPIURL     = "https://api.anthropic.com/v1/messages"
	claudeAPIVersion = "2023-06-01"
)

// Claude implements domain.Provider for the Anthropic Messages API.
type Claude struct {
	apiKey      string
	apiURL      string
	textModel   string
	visionModel string
	client      *http.Client
	logger      *slog.Logger
}

type ClaudeConfig struct {
	APIKey      string
	APIURL      string
	TextModel   string
	VisionModel string
	Client      *http.Client
	Logger      *slog.Logger
}

func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.APIURL == "" {
		cfg.APIURL = claudeAPIURL
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "claude-3-5-haiku-20241022"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.TextModel
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	return &Claude{
		apiKey:      cfg.APIKey,
		apiURL:      cfg.APIURL,
		textModel:   cfg.TextModel,
		visionModel: cfg.VisionModel,
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
}

func (c *Claude) Name() string { return "claude" }

func (c *Claude) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("claude: no API key configured")
	}
	return nil
}

type claudeRequest struct {
	Model     string      `json:"model"`
	MaxTokens int         `json:"max_tokens"`
	Messages  []claudeMsg `json:"messages"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []claudeContent
}

type claudeContent struct {
	Type   string        `json:"type"` // "text" | "image"
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
}

var _ domain.Provider = (*Claude)(nil)

func (c *Claude) CompleteText(ctx context.Context, prompt string) (string, error) {
	return c.message(ctx, c.textModel, []claudeMsg{
		{Role: "user", Content: prompt},
	})
}

func (c *Claude) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return c.message(ctx, c.visionModel, []claudeMsg{
		{Role: "user", Content: []claudeContent{
			{Type: "image", Source: &claudeSource{
				Type:      "base64",
				MediaType: mimeType,
				Data:      base64.StdEncoding.EncodeToString(image),
			}},
			{Type: "text", Text: "Describe this image in one short paragraph."},
		}},
	})
}

func (c *Claude) message(ctx context.Context, model string, msgs []claudeMsg) (string, error) {
	body := claudeRequest{
		Model:     model,
		MaxTokens: maxReplyTokens,
		Messages:  msgs,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("claude request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", &apiError{provider: "claude", status: resp.StatusCode, body: string(respBody)}
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	for _, block := range cr.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("claude: response carried no text block")
}
