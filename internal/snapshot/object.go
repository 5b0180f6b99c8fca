package snapshot

import (
	"fmt"
	"strings"
)

// Kind is the type of a schema object.
type Kind string

// Object kinds understood by the snapshot model.
const (
	KindParam    Kind = "param"
	KindAnalyzer Kind = "analyzer"
	KindFunction Kind = "function"
	KindTable    Kind = "table"
	KindField    Kind = "field"
	KindIndex    Kind = "index"
	KindEvent    Kind = "event"
	KindAccess   Kind = "access"
	KindUser     Kind = "user"
	KindAPI      Kind = "api"
)

// kindRank orders kinds for deterministic tie-breaking. Lower ranks are
// created first and dropped last.
var kindRank = map[Kind]int{
	KindParam:    0,
	KindAnalyzer: 1,
	KindFunction: 2,
	KindTable:    3,
	KindField:    4,
	KindIndex:    5,
	KindEvent:    6,
	KindAccess:   7,
	KindUser:     8,
	KindAPI:      9,
}

// Kinds returns every known kind in rank order.
func Kinds() []Kind {
	return []Kind{KindParam, KindAnalyzer, KindFunction, KindTable, KindField, KindIndex, KindEvent, KindAccess, KindUser, KindAPI}
}

// ParseKind returns the Kind named by s (case-insensitive).
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(s))
	_, ok := kindRank[k]
	return k, ok
}

// Rank returns the creation rank of k. Unknown kinds sort last.
func (k Kind) Rank() int {
	if r, ok := kindRank[k]; ok {
		return r
	}
	return len(kindRank)
}

// Scoped reports whether objects of this kind always live on a table.
func (k Kind) Scoped() bool {
	return k == KindField || k == KindIndex || k == KindEvent
}

// Keyword returns the statement keyword for k (e.g. "FIELD").
func (k Kind) Keyword() string {
	return strings.ToUpper(string(k))
}

// ID renders the identity of an object: kind:name or kind:scope.name.
func ID(kind Kind, scope, name string) string {
	if scope == "" {
		return fmt.Sprintf("%s:%s", kind, name)
	}
	return fmt.Sprintf("%s:%s.%s", kind, scope, name)
}

// TableID returns the identity of a table.
func TableID(name string) string {
	return ID(KindTable, "", name)
}

// Object is one normalized schema object.
type Object struct {
	Kind  Kind   `json:"kind"`
	Scope string `json:"scope,omitempty"`
	Name  string `json:"name"`

	// Definition is the normalized DEFINE statement: no OVERWRITE or
	// IF NOT EXISTS modifier, collapsed whitespace and no trailing semicolon.
	Definition string `json:"definition"`

	// Header is the leading part of Definition up to the first clause, used
	// to render no-dependency shells.
	Header string `json:"header"`

	// Clauses maps a clause keyword (TYPE, PERMISSIONS, ...) to its text.
	Clauses map[string]string `json:"clauses,omitempty"`

	// Parent is the identity this object cannot exist without (the table a
	// field, index or event lives on). Empty for top-level objects.
	Parent string `json:"parent,omitempty"`

	// Refs are soft references to other objects that may be satisfied by a
	// shell creation.
	Refs []string `json:"refs,omitempty"`

	// Source is the file the object was declared in. Not part of the hash.
	Source string `json:"source,omitempty"`

	Hash string `json:"hash"`
}

// ID returns the object's identity.
func (o *Object) ID() string {
	return ID(o.Kind, o.Scope, o.Name)
}

// Deps returns the parent followed by the soft references, excluding the
// object itself.
func (o *Object) Deps() []string {
	self := o.ID()
	deps := make([]string, 0, len(o.Refs)+1)
	if o.Parent != "" && o.Parent != self {
		deps = append(deps, o.Parent)
	}
	for _, r := range o.Refs {
		if r != self && r != o.Parent {
			deps = append(deps, r)
		}
	}
	return deps
}

// Statement returns the definition rendered with OVERWRITE so re-applying it
// is idempotent.
func (o *Object) Statement() string {
	return withOverwrite(o.Definition, o.Kind)
}

// ShellStatement returns a definition with no soft references, used to break
// creation cycles. It reports false for kinds that cannot be split.
func (o *Object) ShellStatement() (string, bool) {
	switch o.Kind {
	case KindTable, KindField, KindParam, KindAnalyzer:
		return withOverwrite(o.Header, o.Kind), true
	case KindFunction:
		// a function needs a body; NONE keeps the signature callable
		return withOverwrite(o.Header, o.Kind) + " { RETURN NONE; }", true
	default:
		return "", false
	}
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	c := *o
	if o.Clauses != nil {
		c.Clauses = make(map[string]string, len(o.Clauses))
		for k, v := range o.Clauses {
			c.Clauses[k] = v
		}
	}
	c.Refs = append([]string(nil), o.Refs...)
	return &c
}

// withOverwrite inserts OVERWRITE after "DEFINE <KIND>".
func withOverwrite(def string, kind Kind) string {
	prefix := "DEFINE " + kind.Keyword()
	if len(def) >= len(prefix) && strings.EqualFold(def[:len(prefix)], prefix) {
		return prefix + " OVERWRITE" + def[len(prefix):]
	}
	return def
}
