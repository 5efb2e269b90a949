package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAI_CompleteText(t *testing.T) {
	var got oaiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key" {
			t.Errorf("expected bearer auth, got %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello there"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "key", APIBase: srv.URL, TextModel: "test-model", Logger: testLogger()})
	text, err := p.CompleteText(context.Background(), "hi")
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello there" {
		t.Errorf("unexpected reply %q", text)
	}
	if got.Model != "test-model" {
		t.Errorf("expected configured model, got %q", got.Model)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("unexpected messages: %+v", got.Messages)
	}
}

func TestOpenAI_DescribeImage(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{"choices":[{"message":{"content":"a small dog"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "key", APIBase: srv.URL, Logger: testLogger()})
	text, err := p.DescribeImage(context.Background(), []byte{0xFF, 0xD8}, "image/jpeg")
	if err != nil {
		t.Fatal(err)
	}
	if text != "a small dog" {
		t.Errorf("unexpected reply %q", text)
	}

	// The image must travel as a data URL part.
	b, _ := json.Marshal(raw)
	if !strings.Contains(string(b), "data:image/jpeg;base64,") {
		t.Error("expected a base64 data URL in the request")
	}
}

func TestOpenAI_APIErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limit"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "key", APIBase: srv.URL, Logger: testLogger()})
	_, err := p.CompleteText(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if classify(err) != "rate_limited" {
		t.Errorf("429 should classify as rate_limited, got %v", classify(err))
	}
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "key", APIBase: srv.URL, Logger: testLogger()})
	if _, err := p.CompleteText(context.Background(), "hi"); err == nil {
		t.Error("a response with no choices must be an error")
	}
}
