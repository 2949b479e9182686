package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	MarketBaseURL    string
	FetchTimeoutSecs int
	RefreshPollSecs  int
	TrackedSymbols   []string

	HTTPPort int
	APIKey   string

	DatabaseURL      string
	TelegramBotToken string

	SSHPort        int
	SSHHostKeyPath string
}

func Load() *Config {
	cfg := &Config{
		MarketBaseURL:    strings.TrimSpace(os.Getenv("MARKET_BASE_URL")),
		APIKey:           os.Getenv("API_KEY"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if cfg.MarketBaseURL == "" {
		log.Println("Warning: MARKET_BASE_URL not set, using the placeholder host")
	}
	if cfg.DatabaseURL == "" {
		log.Println("Warning: DATABASE_URL not set, history endpoint will be disabled")
	}
	if cfg.TelegramBotToken == "" {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set")
	}

	cfg.FetchTimeoutSecs = 10
	if v := strings.TrimSpace(os.Getenv("FETCH_TIMEOUT_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FetchTimeoutSecs = n
		}
	}

	cfg.RefreshPollSecs = 60
	if v := strings.TrimSpace(os.Getenv("REFRESH_POLL_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RefreshPollSecs = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("TRACKED_SYMBOLS")); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.TrackedSymbols = append(cfg.TrackedSymbols, s)
			}
		}
	}

	cfg.HTTPPort = 8080
	if v := strings.TrimSpace(os.Getenv("HTTP_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPPort = n
		}
	}

	cfg.SSHPort = 2222
	if v := strings.TrimSpace(os.Getenv("SSH_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SSHPort = n
		}
	}

	cfg.SSHHostKeyPath = strings.TrimSpace(os.Getenv("SSH_HOST_KEY_PATH"))
	if cfg.SSHHostKeyPath == "" {
		cfg.SSHHostKeyPath = ".ssh/dashboard_host_key"
	}

	return cfg
}
