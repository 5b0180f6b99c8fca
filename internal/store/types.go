package store

import "time"

// Run is one recorded test run.
type Run struct {
	// ID is the history row id (run_...).
	ID string
	// ScopeRunID is the id the runner used to name ephemeral scopes.
	ScopeRunID string
	Target     string
	StartedAt  time.Time
	FinishedAt time.Time

	SuitesTotal  int
	SuitesPassed int
	SuitesFailed int
	CasesTotal   int
	CasesPassed  int
	CasesFailed  int
	CasesSkipped int

	// Cases is populated by ReadRun only.
	Cases []CaseResult
}

// Duration returns the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// CaseResult is one case outcome within a run.
type CaseResult struct {
	Seq      int
	Suite    string
	File     string
	Name     string
	Kind     string
	Status   string
	Duration time.Duration
	Error    string
}

// Event is one reconciliation outcome: a sync, a migrate, a commit or a
// prune guard override.
type Event struct {
	ID      string
	Kind    string
	Target  string
	Owner   string
	Status  string
	Summary string
	// Objects lists affected object identities or migration ids.
	Objects []string
	At      time.Time
}

// Event kinds.
const (
	EventSync          = "sync"
	EventMigrate       = "migrate"
	EventCommit        = "commit"
	EventPruneOverride = "prune_override"
)
