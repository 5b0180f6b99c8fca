package harness

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/ForetagInc/surrealkit/internal/errs"
)

// Filter selects suites and cases. Empty fields match everything.
type Filter struct {
	// Suite is a glob matched against the suite name and its file path.
	Suite string
	// Case is a glob matched against case names.
	Case string
	// Tags must all be present on the suite or the case.
	Tags []string
}

// Apply returns the suites with the cases f selects. Suites left without
// cases are dropped. The input is not modified. An invalid glob is a
// ConfigError.
func (f Filter) Apply(suites []*Suite) ([]*Suite, error) {
	suiteGlob, err := compileGlob("--suite", f.Suite)
	if err != nil {
		return nil, err
	}
	caseGlob, err := compileGlob("--case", f.Case)
	if err != nil {
		return nil, err
	}

	var out []*Suite
	for _, s := range suites {
		if !suiteGlob.Match(s.Name) && !suiteGlob.Match(s.File) {
			continue
		}
		var cases []Case
		for _, c := range s.Cases {
			h := c.Header()
			if !caseGlob.Match(h.Name) {
				continue
			}
			if !hasTags(f.Tags, s.Tags, h.Tags) {
				continue
			}
			cases = append(cases, c)
		}
		if len(cases) == 0 {
			continue
		}
		kept := *s
		kept.Cases = cases
		out = append(out, &kept)
	}
	return out, nil
}

func hasTags(want, suite, cases []string) bool {
	have := make(map[string]bool, len(suite)+len(cases))
	for _, t := range suite {
		have[t] = true
	}
	for _, t := range cases {
		have[t] = true
	}
	for _, t := range want {
		if !have[t] {
			return false
		}
	}
	return true
}

type matchAll struct{}

func (matchAll) Match(string) bool { return true }

// compileGlob compiles pattern with no separators, so '*' also matches '/'.
// An empty pattern matches everything.
func compileGlob(flag, pattern string) (glob.Glob, error) {
	if pattern == "" {
		return matchAll{}, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errs.WrapConfig(flag, fmt.Sprintf("invalid glob %q", pattern), err)
	}
	return g, nil
}
