package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"linerelay/internal/domain"
)

func TestFetcher_Success(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46} // JPEG magic
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("expected bearer auth, got %q", got)
		}
		if r.URL.Path != "/v2/bot/message/m42/content" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{BaseURL: srv.URL, Token: "tok", Logger: testLogger()})
	data, mime, err := f.Fetch(context.Background(), "m42")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != len(payload) {
		t.Errorf("expected %d bytes, got %d", len(payload), len(data))
	}
	if mime != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", mime)
	}
}

func TestFetcher_SniffsMimeWhenHeaderMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("\x89PNG\r\n\x1a\n" + "xxxxxxxx"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{BaseURL: srv.URL, Token: "tok", Logger: testLogger()})
	_, mime, err := f.Fetch(context.Background(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if mime != "image/png" {
		t.Errorf("expected sniffed image/png, got %s", mime)
	}
}

func TestFetcher_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{BaseURL: srv.URL, Token: "tok", Logger: testLogger()})
	_, _, err := f.Fetch(context.Background(), "gone")
	if err == nil {
		t.Fatal("expected error")
	}
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %T", err)
	}
	if fe.Code != domain.FetchBadStatus || fe.Status != 404 {
		t.Errorf("expected bad_status 404, got %+v", fe)
	}
}

func TestFetcher_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	f := NewFetcher(FetcherConfig{
		BaseURL: srv.URL,
		Token:   "tok",
		Timeout: 50 * time.Millisecond,
		Logger:  testLogger(),
	})
	_, _, err := f.Fetch(context.Background(), "slow")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var fe *domain.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %T: %v", err, err)
	}
	if fe.Code != domain.FetchTimeout {
		t.Errorf("expected timeout, got %+v", fe)
	}
}
