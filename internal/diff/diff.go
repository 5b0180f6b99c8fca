package diff

import (
	"sort"

	"github.com/ForetagInc/surrealkit/internal/snapshot"
)

// Options controls Diff.
type Options struct {
	// Prune emits Drops for objects missing from the desired snapshot.
	// When false those objects are retained in the target snapshot.
	Prune bool
}

// headerClause names the pseudo-clause compared for header changes such as a
// function signature.
const headerClause = "HEADER"

// Clauses whose change never narrows behavior.
var harmlessChange = map[string]bool{"COMMENT": true, "DEFAULT": true}

// Clauses whose removal never narrows behavior.
var harmlessRemoval = map[string]bool{
	"COMMENT": true, "DEFAULT": true, "ASSERT": true, "UNIQUE": true, "READONLY": true, "SCHEMAFULL": true,
}

// Clauses whose addition never narrows behavior.
var harmlessAddition = map[string]bool{
	"COMMENT": true, "DEFAULT": true, "FLEXIBLE": true, "CHANGEFEED": true, "SCHEMALESS": true,
}

// Diff computes the ordered change set that turns reference into desired.
// Diff of a snapshot against itself is always empty.
func Diff(desired, reference *snapshot.Snapshot, opts Options) (*ChangeSet, error) {
	if desired == nil {
		desired = snapshot.New()
	}
	if reference == nil {
		reference = snapshot.New()
	}

	var (
		upserts  []ChangeOp
		drops    []ChangeOp
		retained []string
	)
	for _, after := range desired.Objects() {
		before, ok := reference.Get(after.ID())
		switch {
		case !ok:
			upserts = append(upserts, ChangeOp{Type: OpCreate, ID: after.ID(), After: after})
		case before.Hash != after.Hash:
			upserts = append(upserts, ChangeOp{
				Type:    OpAlter,
				ID:      after.ID(),
				Before:  before,
				After:   after,
				Changes: clauseDiff(before, after),
			})
		}
	}
	for _, before := range reference.Objects() {
		if _, ok := desired.Get(before.ID()); ok {
			continue
		}
		if !opts.Prune {
			retained = append(retained, before.ID())
			continue
		}
		drops = append(drops, ChangeOp{Type: OpDrop, ID: before.ID(), Before: before})
	}

	ordered, err := orderUpserts(upserts)
	if err != nil {
		return nil, err
	}
	ordered = append(ordered, orderDrops(drops)...)

	target := desired.Clone()
	for _, id := range retained {
		obj, _ := reference.Get(id)
		target.Put(obj.Clone())
	}
	sort.Strings(retained)

	return &ChangeSet{
		Ops:      ordered,
		From:     reference.Hash(),
		To:       target.Hash(),
		Retained: retained,
		Target:   target,
	}, nil
}

// clauseDiff lists added, removed and changed clauses in clause order.
func clauseDiff(before, after *snapshot.Object) []ClauseChange {
	var changes []ClauseChange
	if before.Header != after.Header {
		changes = append(changes, ClauseChange{
			Type:      ClauseChanged,
			Clause:    headerClause,
			Before:    before.Header,
			After:     after.Header,
			Narrowing: true,
		})
	}

	keys := map[string]bool{}
	for k := range before.Clauses {
		keys[k] = true
	}
	for k := range after.Clauses {
		keys[k] = true
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		b, inBefore := before.Clauses[k]
		a, inAfter := after.Clauses[k]
		switch {
		case inBefore && !inAfter:
			changes = append(changes, ClauseChange{Type: ClauseRemoved, Clause: k, Before: b, Narrowing: !harmlessRemoval[k]})
		case !inBefore && inAfter:
			changes = append(changes, ClauseChange{Type: ClauseAdded, Clause: k, After: a, Narrowing: !harmlessAddition[k]})
		case a != b:
			changes = append(changes, ClauseChange{Type: ClauseChanged, Clause: k, Before: b, After: a, Narrowing: !harmlessChange[k]})
		}
	}

	// same clauses, different text outside them (e.g. keyword case)
	if len(changes) == 0 {
		changes = append(changes, ClauseChange{
			Type:      ClauseChanged,
			Clause:    "DEFINITION",
			Before:    before.Definition,
			After:     after.Definition,
			Narrowing: true,
		})
	}
	return changes
}
