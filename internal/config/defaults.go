package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			DataDir:  "~/.propchat",
		},
		Webhook: WebhookConfig{
			App:             "propchat-web",
			TimeoutSeconds:  30,
			MaxMessageChars: 5000,
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: 60,
			MaxPerWindow:  20,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "~/.propchat/propchat.db",
		},
		Web: WebConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
