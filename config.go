package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr            string
	MaxRooms        int
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
	RateLimitPerIP  float64
	AllowedOrigins  []string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	LiveKitTokenTTL  time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Addr:            envStr("FOCUSROOM_ADDR", ":8000"),
		MaxRooms:        envInt("FOCUSROOM_MAX_ROOMS", 1000),
		CleanupInterval: time.Duration(envInt("FOCUSROOM_CLEANUP_INTERVAL", 300)) * time.Second,
		IdleTimeout:     time.Duration(envInt("FOCUSROOM_IDLE_TIMEOUT", 1800)) * time.Second,
		RateLimitPerIP:  float64(envInt("FOCUSROOM_RATE_LIMIT_PER_IP", 100)),
		AllowedOrigins:  envCSV("FOCUSROOM_ALLOWED_ORIGINS", []string{"http://localhost:5500", "http://127.0.0.1:5500"}),

		LiveKitURL:       envStr("LIVEKIT_URL", "ws://127.0.0.1:7880"),
		LiveKitAPIKey:    envStr("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: envStr("LIVEKIT_API_SECRET", ""),
		LiveKitTokenTTL:  time.Duration(envInt("LIVEKIT_TOKEN_TTL", 3600)) * time.Second,
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envCSV(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
