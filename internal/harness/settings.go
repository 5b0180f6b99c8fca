package harness

import (
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds each blocking operation of a case when nothing else
// is configured.
const DefaultTimeout = 10 * time.Second

// Environment variables read by the runner settings.
const (
	EnvBaseURL   = "SURREALKIT_TEST_BASE_URL"
	EnvTimeoutMS = "SURREALKIT_TEST_TIMEOUT_MS"
)

// ResolveBaseURL picks the api_request base URL. The first non-empty of
// flag, config default, environment and database host wins. WebSocket
// schemes map to their HTTP equivalents.
func ResolveBaseURL(flag, config, env, dbHost string) string {
	for _, candidate := range []string{flag, config, env, dbHost} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		switch {
		case strings.HasPrefix(candidate, "ws://"):
			candidate = "http://" + strings.TrimPrefix(candidate, "ws://")
		case strings.HasPrefix(candidate, "wss://"):
			candidate = "https://" + strings.TrimPrefix(candidate, "wss://")
		}
		return strings.TrimRight(candidate, "/")
	}
	return ""
}

// ResolveTimeout picks the per-operation timeout: flag, config default,
// then environment, each in milliseconds. Non-positive and unparsable
// values are skipped.
func ResolveTimeout(flagMS, configMS int, env string) time.Duration {
	if flagMS > 0 {
		return time.Duration(flagMS) * time.Millisecond
	}
	if configMS > 0 {
		return time.Duration(configMS) * time.Millisecond
	}
	if ms, err := strconv.Atoi(strings.TrimSpace(env)); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return DefaultTimeout
}
