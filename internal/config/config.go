package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay.
type Config struct {
	General   GeneralConfig             `yaml:"general"`
	Server    ServerConfig              `yaml:"server"`
	Line      LineConfig                `yaml:"line"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Relay     RelayConfig               `yaml:"relay"`
	Journal   JournalConfig             `yaml:"journal"`
	Metrics   MetricsConfig             `yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `yaml:"logLevel"` // debug | info | warn | error
	LogFile  string `yaml:"logFile,omitempty"`
}

type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	CallbackPath string `yaml:"callbackPath"`
}

// LineConfig holds the messaging-platform credentials and endpoints.
// ChannelAccessToken authenticates outbound calls (reply, content download);
// ChannelSecret signs inbound webhook bodies.
type LineConfig struct {
	ChannelAccessToken  string `yaml:"channelAccessToken"`
	ChannelSecret       string `yaml:"channelSecret"`
	APIBase             string `yaml:"apiBase,omitempty"`
	ContentAPIBase      string `yaml:"contentApiBase,omitempty"`
	FetchTimeoutSeconds int    `yaml:"fetchTimeoutSeconds,omitempty"`
}

type ProviderConfig struct {
	Enabled     bool   `yaml:"enabled"`
	APIKey      string `yaml:"apiKey,omitempty"`
	APIBase     string `yaml:"apiBase,omitempty"`
	TextModel   string `yaml:"textModel,omitempty"`
	VisionModel string `yaml:"visionModel,omitempty"`
}

// RelayConfig tunes the async reply pipeline.
type RelayConfig struct {
	DefaultProvider   string   `yaml:"defaultProvider"`
	FailoverChain     []string `yaml:"failoverChain,omitempty"`
	MaxConcurrentJobs int      `yaml:"maxConcurrentJobs"`
	JobTimeoutSeconds int      `yaml:"jobTimeoutSeconds"`
	QueueSize         int      `yaml:"queueSize"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"dbPath"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// envCredentials is the environment overlay: credentials set in the
// environment take precedence over (usually absent) file values, so a
// minimal deployment needs no config file at all.
type envCredentials struct {
	ChannelAccessToken string `env:"LINE_CHANNEL_ACCESS_TOKEN"`
	ChannelSecret      string `env:"LINE_CHANNEL_SECRET"`
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey    string `env:"ANTHROPIC_API_KEY"`
	Port               int    `env:"PORT"`
}

// DefaultConfigDir returns the default config directory (~/.linerelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".linerelay"
	}
	return filepath.Join(home, ".linerelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the YAML config at path, expands ${VAR} references, applies
// the environment credential overlay, and validates. A missing file is not
// an error: defaults plus environment variables form a complete config.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		data = []byte(ExpandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only deployment
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := applyEnvOverlay(cfg); err != nil {
		return nil, fmt.Errorf("environment overlay: %w", err)
	}

	cfg.Journal.DBPath = ExpandPath(cfg.Journal.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnvOverlay(cfg *Config) error {
	var creds envCredentials
	if err := env.Parse(&creds); err != nil {
		return err
	}
	if creds.ChannelAccessToken != "" {
		cfg.Line.ChannelAccessToken = creds.ChannelAccessToken
	}
	if creds.ChannelSecret != "" {
		cfg.Line.ChannelSecret = creds.ChannelSecret
	}
	if creds.Port != 0 {
		cfg.Server.Port = creds.Port
	}
	if creds.OpenAIAPIKey != "" {
		pc := cfg.Providers["openai"]
		pc.Enabled = true
		pc.APIKey = creds.OpenAIAPIKey
		cfg.Providers["openai"] = pc
	}
	if creds.AnthropicAPIKey != "" {
		pc := cfg.Providers["claude"]
		pc.Enabled = true
		pc.APIKey = creds.AnthropicAPIKey
		cfg.Providers["claude"] = pc
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

// Save writes the config as YAML, creating the directory if needed.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks the config, failing fast on absent credentials so the
// process never starts half-wired.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Line.ChannelAccessToken == "" {
		errs = append(errs, "line.channelAccessToken is required (or set LINE_CHANNEL_ACCESS_TOKEN)")
	}
	if cfg.Line.ChannelSecret == "" {
		errs = append(errs, "line.channelSecret is required (or set LINE_CHANNEL_SECRET)")
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.CallbackPath, "/") {
		errs = append(errs, "server.callbackPath must begin with /")
	}

	if cfg.Relay.MaxConcurrentJobs < 1 || cfg.Relay.MaxConcurrentJobs > 100 {
		errs = append(errs, "relay.maxConcurrentJobs must be between 1 and 100")
	}
	if cfg.Relay.JobTimeoutSeconds < 1 {
		errs = append(errs, "relay.jobTimeoutSeconds must be >= 1")
	}
	if cfg.Line.FetchTimeoutSeconds < 1 {
		errs = append(errs, "line.fetchTimeoutSeconds must be >= 1")
	}

	enabled := 0
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		enabled++
		if pc.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiKey is required when enabled", name))
		}
	}
	if enabled == 0 {
		errs = append(errs, "no inference provider enabled (set OPENAI_API_KEY or ANTHROPIC_API_KEY, or enable one in the config file)")
	}

	if _, ok := cfg.Providers[cfg.Relay.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("relay.defaultProvider references unknown provider: %s", cfg.Relay.DefaultProvider))
	}
	for _, name := range cfg.Relay.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("relay.failoverChain references unknown provider: %s", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
