package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"linerelay/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	oai := cfg.Providers["openai"]
	oai.Enabled = true
	oai.APIKey = "sk-test"
	cfg.Providers["openai"] = oai
	cl := cfg.Providers["claude"]
	cl.Enabled = true
	cl.APIKey = "sk-ant"
	cfg.Providers["claude"] = cl
	return cfg
}

func TestFactory_Get(t *testing.T) {
	f := NewFactory(testConfig(), testLogger())

	p, err := f.Get("openai")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "openai" {
		t.Errorf("unexpected provider %q", p.Name())
	}

	if _, err := f.Get("ghost"); err == nil {
		t.Error("unknown provider must error")
	}
}

func TestFactory_GetDisabled(t *testing.T) {
	cfg := testConfig()
	pc := cfg.Providers["claude"]
	pc.Enabled = false
	cfg.Providers["claude"] = pc

	f := NewFactory(cfg, testLogger())
	if _, err := f.Get("claude"); err == nil {
		t.Error("disabled provider must error")
	}
}

func TestFactory_DefaultSingle(t *testing.T) {
	f := NewFactory(testConfig(), testLogger())

	p, err := f.Default()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "openai" {
		t.Errorf("expected the configured default, got %q", p.Name())
	}
}

func TestFactory_DefaultFailoverChain(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.FailoverChain = []string{"openai", "claude"}

	f := NewFactory(cfg, testLogger())
	p, err := f.Default()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "failover(openai,claude)" {
		t.Errorf("expected a failover chain, got %q", p.Name())
	}
}

func TestFactory_ClaudeUsesConfiguredAPIBase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[{"type":"text","text":"routed"}]}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	pc := cfg.Providers["claude"]
	pc.APIBase = srv.URL
	cfg.Providers["claude"] = pc

	f := NewFactory(cfg, testLogger())
	p, err := f.Get("claude")
	if err != nil {
		t.Fatal(err)
	}
	text, err := p.CompleteText(context.Background(), "hi")
	if err != nil {
		t.Fatalf("configured apiBase was not used: %v", err)
	}
	if text != "routed" {
		t.Errorf("unexpected reply %q", text)
	}
}

func TestFactory_ChainSkipsUnusable(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.FailoverChain = []string{"ghost", "claude"}

	f := NewFactory(cfg, testLogger())
	p, err := f.Default()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "claude" {
		t.Errorf("a single survivor should be returned bare, got %q", p.Name())
	}
}
