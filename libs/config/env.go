package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString looks up PORTAL_<key> first and then the bare key.
func EnvString(key, def string) string {
	if v := lookup(key); v != "" {
		return v
	}
	return def
}

func EnvInt(key string, def int) int {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func EnvBool(key string, def bool) bool {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func EnvDuration(key string, def time.Duration) time.Duration {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func EnvCSV(key string, def []string) []string {
	v := lookup(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(EnvPrefix + "_" + key)); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv(key))
}
