package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/jasonchiu/cloudhelper/core/channel"
)

type Runtime struct {
	Addr       string
	BaseURL    string
	ConfigPath string
	Channel    string
	LogLevel   slog.Level
}

func Load() Runtime {
	addr := strings.TrimSpace(os.Getenv("CLOUDHELPER_SERVER_ADDR"))
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("CLOUDHELPER_SERVER_BASE_URL")), "/")
	if baseURL == "" {
		baseURL = "http://" + addr
	}

	return Runtime{
		Addr:       addr,
		BaseURL:    baseURL,
		ConfigPath: envOrDefault("CLOUDHELPER_CONFIG", DefaultGatewayFile),
		Channel:    envOrDefault("CLOUDHELPER_CHANNEL", channel.DefaultName),
		LogLevel:   levelOrDefault("CLOUDHELPER_LOG_LEVEL", slog.LevelInfo),
	}
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func levelOrDefault(envKey string, fallback slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(envKey))
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return fallback
	}
	return level
}
