// Package guard implements the prune guard: destructive change sets are
// refused against shared targets unless the caller explicitly overrides.
//
// The guard fails closed. A target whose ephemeral status cannot be
// established is treated as shared.
package guard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/diff"
	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// Status is the ephemeral status of a target database.
type Status string

const (
	StatusEphemeral Status = "ephemeral"
	StatusShared    Status = "shared"
	StatusUnknown   Status = "unknown"
)

// Shared reports whether destructive changes need an override. Unknown
// counts as shared.
func (s Status) Shared() bool {
	return s != StatusEphemeral
}

// EnvShared names the environment variable that marks a target shared.
const EnvShared = "SURREALKIT_SHARED_DB"

// MetaTable holds per-database sync metadata.
const MetaTable = "_surrealkit_sync_meta"

// ParseBool accepts 1/true/yes/y/on and 0/false/no/n/off, case-insensitive.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

// Detector establishes the status of a target.
type Detector struct {
	Getenv  func(string) string
	Querier surreal.Querier
}

// NewDetector returns a Detector reading the process environment.
func NewDetector(q surreal.Querier) *Detector {
	return &Detector{Getenv: os.Getenv, Querier: q}
}

// Detect checks the environment first, then the shared flag stored in the
// target's metadata table.
func (d *Detector) Detect(ctx context.Context) (Status, error) {
	getenv := d.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if raw := getenv(EnvShared); strings.TrimSpace(raw) != "" {
		shared, err := ParseBool(raw)
		if err != nil {
			return StatusUnknown, errs.WrapConfig(EnvShared, "invalid value", err)
		}
		return statusOf(shared), nil
	}

	if d.Querier == nil {
		return StatusUnknown, nil
	}
	v, err := surreal.Exec(ctx, d.Querier, "SELECT * FROM ONLY "+MetaTable+":shared;", nil)
	if err != nil {
		// a missing table reads as unknown, which is treated as shared
		return StatusUnknown, nil
	}
	row, _ := v.(map[string]any)
	switch val := row["value"].(type) {
	case bool:
		return statusOf(val), nil
	case string:
		if shared, err := ParseBool(val); err == nil {
			return statusOf(shared), nil
		}
	}
	return StatusUnknown, nil
}

func statusOf(shared bool) Status {
	if shared {
		return StatusShared
	}
	return StatusEphemeral
}

// Item is one destructive change presented to the guard.
type Item struct {
	ID     string
	Reason string
}

// Items lists the destructive operations of cs in order.
func Items(cs *diff.ChangeSet) []Item {
	ops := cs.DestructiveOps()
	items := make([]Item, len(ops))
	for i, op := range ops {
		items[i] = Item{ID: op.ID, Reason: op.Reason()}
	}
	return items
}

// Decision is the outcome of a guard check.
type Decision struct {
	// Override is set when destructive operations were let through by an
	// explicit override. Callers must record it.
	Override bool
	// Destructive lists the destructive operations in order.
	Destructive []Item
}

// IDs returns the identities of the destructive operations.
func (d Decision) IDs() []string {
	ids := make([]string, len(d.Destructive))
	for i, item := range d.Destructive {
		ids[i] = item.ID
	}
	return ids
}

// Guard gates destructive change sets.
type Guard struct {
	Logger *slog.Logger
}

// New returns a Guard.
func New(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Guard{Logger: logger}
}

// Check permits cs against a target with the given status. A destructive
// change set on a shared or unknown target is a SafetyViolation unless
// allowSharedPrune is set, in which case every destructive operation is
// logged at WARN and the decision is marked as an override.
func (g *Guard) Check(target string, cs *diff.ChangeSet, status Status, allowSharedPrune bool) (Decision, error) {
	return g.CheckItems(target, Items(cs), status, allowSharedPrune)
}

// CheckItems applies the same policy as Check to a precomputed list, such as
// the REMOVE statements of pending migration artifacts.
func (g *Guard) CheckItems(target string, items []Item, status Status, allowSharedPrune bool) (Decision, error) {
	dec := Decision{Destructive: items}
	if len(items) == 0 || !status.Shared() {
		return dec, nil
	}

	if !allowSharedPrune {
		details := make(map[string]string, len(items)+1)
		for _, item := range items {
			details[item.ID] = item.Reason
		}
		details["status"] = string(status)
		return dec, errs.Safety(target,
			fmt.Sprintf("refusing %d destructive change(s) on a %s database without --allow-shared-prune", len(items), status),
			details)
	}

	dec.Override = true
	for _, item := range items {
		g.Logger.Warn("destructive change allowed by --allow-shared-prune",
			"target", target,
			"status", string(status),
			"object", item.ID,
			"reason", item.Reason)
	}
	return dec, nil
}
