// Package diff computes ordered change sets between two schema snapshots.
//
// Diff compares a desired snapshot against a reference snapshot (the last
// applied catalog state) and emits Create, Alter and Drop operations. Creates
// and Alters are ordered so that every object is created after the objects it
// references; Drops follow in reverse dependency order. Reference cycles are
// broken by splitting a Create into a no-dependency shell and a follow-up
// Alter carrying the back-reference.
package diff

import (
	"fmt"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/snapshot"
)

// OpType is the kind of change applied to one object.
type OpType string

const (
	OpCreate OpType = "create"
	OpAlter  OpType = "alter"
	OpDrop   OpType = "drop"
)

// ClauseChangeType classifies a clause-level difference.
type ClauseChangeType string

const (
	ClauseAdded   ClauseChangeType = "added"
	ClauseRemoved ClauseChangeType = "removed"
	ClauseChanged ClauseChangeType = "changed"
)

// ClauseChange is one entry of an Alter's structural sub-diff.
type ClauseChange struct {
	Type   ClauseChangeType `json:"type"`
	Clause string           `json:"clause"`
	Before string           `json:"before,omitempty"`
	After  string           `json:"after,omitempty"`

	// Narrowing is set when the change removes or restricts behavior.
	Narrowing bool `json:"narrowing"`
}

// ChangeOp is one operation on one object identity.
type ChangeOp struct {
	Type OpType `json:"type"`
	ID   string `json:"id"`

	// Before is the reference definition (Alter, Drop).
	Before *snapshot.Object `json:"before,omitempty"`
	// After is the desired definition (Create, Alter).
	After *snapshot.Object `json:"after,omitempty"`

	// Shell marks a Create rendered without soft references.
	Shell bool `json:"shell,omitempty"`
	// BackReference marks the Alter that completes a shell Create.
	BackReference bool `json:"back_reference,omitempty"`

	// Changes is the structural sub-diff of an Alter.
	Changes []ClauseChange `json:"changes,omitempty"`
}

// Object returns the definition the operation acts on.
func (op ChangeOp) Object() *snapshot.Object {
	if op.After != nil {
		return op.After
	}
	return op.Before
}

// Kind returns the object kind of the operation.
func (op ChangeOp) Kind() snapshot.Kind {
	if o := op.Object(); o != nil {
		return o.Kind
	}
	return ""
}

// Destructive reports whether the operation drops an object or narrows its
// behavior.
func (op ChangeOp) Destructive() bool {
	if op.Type == OpDrop {
		return true
	}
	for _, c := range op.Changes {
		if c.Narrowing {
			return true
		}
	}
	return false
}

// Reason describes why the operation is destructive. It is empty for
// non-destructive operations.
func (op ChangeOp) Reason() string {
	if op.Type == OpDrop {
		return "drops " + op.ID
	}
	var parts []string
	for _, c := range op.Changes {
		if c.Narrowing {
			parts = append(parts, fmt.Sprintf("%s %s", c.Clause, c.Type))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("narrows %s (%s)", op.ID, strings.Join(parts, ", "))
}

// String renders a one-line summary, e.g. "create table:order".
func (op ChangeOp) String() string {
	switch {
	case op.Shell:
		return fmt.Sprintf("%s %s (shell)", op.Type, op.ID)
	case op.BackReference:
		return fmt.Sprintf("%s %s (back-reference)", op.Type, op.ID)
	default:
		return fmt.Sprintf("%s %s", op.Type, op.ID)
	}
}

// ChangeSet is an ordered list of operations between two snapshots.
type ChangeSet struct {
	Ops []ChangeOp `json:"ops"`

	// From is the hash of the reference snapshot.
	From string `json:"from"`
	// To is the hash of Target.
	To string `json:"to"`

	// Retained lists identities whose Drop was withheld because pruning
	// was disabled.
	Retained []string `json:"retained,omitempty"`

	// Target is the catalog state after the change set is applied: the
	// desired snapshot plus any retained objects.
	Target *snapshot.Snapshot `json:"-"`
}

// Empty reports whether the change set has no operations.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Ops) == 0
}

// IsDestructive reports whether any operation drops or narrows an object.
func (cs *ChangeSet) IsDestructive() bool {
	for _, op := range cs.Ops {
		if op.Destructive() {
			return true
		}
	}
	return false
}

// DestructiveOps returns the destructive operations in order.
func (cs *ChangeSet) DestructiveOps() []ChangeOp {
	var out []ChangeOp
	for _, op := range cs.Ops {
		if op.Destructive() {
			out = append(out, op)
		}
	}
	return out
}

// Counts returns the number of operations per type. Shell and
// back-reference halves of a split Create count once.
func (cs *ChangeSet) Counts() map[OpType]int {
	counts := map[OpType]int{}
	for _, op := range cs.Ops {
		if op.BackReference {
			continue
		}
		counts[op.Type]++
	}
	return counts
}

// Summary renders "N create, N alter, N drop".
func (cs *ChangeSet) Summary() string {
	c := cs.Counts()
	return fmt.Sprintf("%d create, %d alter, %d drop", c[OpCreate], c[OpAlter], c[OpDrop])
}
