package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ForetagInc/surrealkit/internal/snapshot"
)

// timeLayout keeps sub-second precision so durations survive a round trip
// and lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

// marshalObjects stores an identity list as canonical JSON TEXT.
func marshalObjects(objects []string) (string, error) {
	if objects == nil {
		objects = []string{}
	}
	data, err := snapshot.MarshalCanonical(objects)
	if err != nil {
		return "", fmt.Errorf("marshal objects: %w", err)
	}
	return string(data), nil
}

func unmarshalObjects(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal objects: %w", err)
	}
	return out, nil
}
