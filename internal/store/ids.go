package store

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// TypeID prefixes for history rows.
const (
	PrefixRun   = "run"
	PrefixEvent = "evt"
)

// NewID returns a K-sortable TypeID with the given prefix.
func NewID(prefix string) (string, error) {
	tid, err := typeid.Generate(prefix)
	if err != nil {
		return "", fmt.Errorf("generate %s id: %w", prefix, err)
	}
	return tid.String(), nil
}
