package config

// Defaults returns the baseline configuration. Credentials are left empty
// and must come from the config file or the environment.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:         "",
			Port:         8000,
			CallbackPath: "/callback",
		},
		Line: LineConfig{
			APIBase:             "https://api.line.me",
			ContentAPIBase:      "https://api-data.line.me",
			FetchTimeoutSeconds: 10,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				APIBase:     "https://api.openai.com/v1",
				TextModel:   "gpt-4o-mini",
				VisionModel: "gpt-4o-mini",
			},
			"claude": {
				TextModel:   "claude-3-5-haiku-20241022",
				VisionModel: "claude-sonnet-4-5-20250514",
			},
		},
		Relay: RelayConfig{
			DefaultProvider:   "openai",
			FailoverChain:     nil,
			MaxConcurrentJobs: 4,
			JobTimeoutSeconds: 30,
			QueueSize:         64,
		},
		Journal: JournalConfig{
			Enabled: true,
			DBPath:  "~/.linerelay/journal.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
