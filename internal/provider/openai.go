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

var _ domain.Provider = (*OpenAI)(nil)

// OpenAI implements domain.Provider for OpenAI-compatible APIs.
type OpenAI struct {
	apiKey      string
	apiBase     string
	textModel   string
	visionModel string
	client      *http.Client
	logger      *slog.Logger
}

type OpenAIConfig struct {
	APIKey      string
	APIBase     string
	TextModel   string
	VisionModel string
	Client      *http.Client
	Logger      *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.TextModel == "" {
		cfg.TextModel = "gpt-4o-mini"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.TextModel
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(defaultHTTPTimeout)
	}
	return &OpenAI{
		apiKey:      cfg.APIKey,
		apiBase:     cfg.APIBase,
		textModel:   cfg.TextModel,
		visionModel: cfg.VisionModel,
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("openai not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("openai: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("openai returned %d", resp.StatusCode)
	}
	return nil
}

type oaiRequest struct {
	Model     string       `json:"model"`
	Messages  []oaiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

// oaiMessage content is either a plain string or a part list (vision).
type oaiMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type oaiPart struct {
	Type     string        `json:"type"` // "text" | "image_url"
	Text     string        `json:"text,omitempty"`
	ImageURL *oaiImagePart `json:"image_url,omitempty"`
}

type oaiImagePart struct {
	URL string `json:"url"`
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
}

type oaiChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

const maxReplyTokens = 1024

func (o *OpenAI) CompleteText(ctx context.Context, prompt string) (string, error) {
	return o.chat(ctx, o.textModel, []oaiMessage{
		{Role: "user", Content: prompt},
	})
}

func (o *OpenAI) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return o.chat(ctx, o.visionModel, []oaiMessage{
		{Role: "user", Content: []oaiPart{
			{Type: "text", Text: "Describe this image in one short paragraph."},
			{Type: "image_url", ImageURL: &oaiImagePart{URL: dataURL}},
		}},
	})
}

func (o *OpenAI) chat(ctx context.Context, model string, msgs []oaiMessage) (string, error) {
	body := oaiRequest{
		Model:     model,
		Messages:  msgs,
		MaxTokens: maxReplyTokens,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", &apiError{provider: "openai", status: resp.StatusCode, body: string(respBody)}
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("openai: response carried no choices")
	}
	return oaiResp.Choices[0].Message.Content, nil
}
