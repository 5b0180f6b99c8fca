package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/snapshot"
)

// clauseKeywords start a new clause inside a DEFINE statement.
var clauseKeywords = map[string]bool{
	"TYPE": true, "FLEXIBLE": true, "READONLY": true, "VALUE": true, "DEFAULT": true,
	"ASSERT": true, "PERMISSIONS": true, "COMMENT": true, "FIELDS": true, "COLUMNS": true,
	"UNIQUE": true, "SEARCH": true, "MTREE": true, "HNSW": true, "WHEN": true, "THEN": true,
	"SCHEMAFULL": true, "SCHEMALESS": true, "DROP": true, "CHANGEFEED": true, "AS": true,
	"DURATION": true, "SIGNUP": true, "SIGNIN": true, "AUTHENTICATE": true, "WITH": true,
	"ROLES": true, "PASSWORD": true, "PASSHASH": true, "TOKENIZERS": true, "FILTERS": true,
	"MIDDLEWARE": true, "CONCURRENTLY": true, "REFERENCE": true,
}

// expressionClauses hold free-form expressions. Inside them only an
// upper-case keyword ends the clause so that a column named "value" in a
// WHERE condition is not mistaken for the VALUE clause.
var expressionClauses = map[string]bool{
	"VALUE": true, "DEFAULT": true, "ASSERT": true, "WHEN": true, "THEN": true,
	"PERMISSIONS": true, "AS": true, "SIGNUP": true, "SIGNIN": true, "AUTHENTICATE": true,
}

// statementKeywords never occur inside a SurrealQL expression, so they end
// an expression clause whatever their case.
var statementKeywords = map[string]bool{
	"PERMISSIONS": true, "ASSERT": true, "READONLY": true, "FLEXIBLE": true,
	"SCHEMAFULL": true, "SCHEMALESS": true, "CHANGEFEED": true, "SIGNUP": true,
	"SIGNIN": true, "AUTHENTICATE": true, "CONCURRENTLY": true, "TOKENIZERS": true,
	"FILTERS": true, "PASSHASH": true, "MIDDLEWARE": true,
}

// bodyClause holds tokens that appear before any keyword, such as a function body.
const bodyClause = "BODY"

var (
	recordTypeRe = regexp.MustCompile(`(?i)record\s*<\s*([^>]+)>`)
	functionRe   = regexp.MustCompile(`fn::[A-Za-z0-9_:]+`)
	analyzerRe   = regexp.MustCompile(`(?i)\bANALYZER\s+([A-Za-z_][A-Za-z0-9_]*)`)
	tableUseRe   = regexp.MustCompile(`(?i)\b(?:FROM|CREATE|UPDATE|UPSERT|INTO)\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// ParseDefinition parses one statement. It returns ok=false for statements
// that are not DEFINE statements of a tracked kind.
func ParseDefinition(stmt, source string) (obj *snapshot.Object, ok bool, err error) {
	tokens := tokenize(normalizeSpace(stmt))
	if len(tokens) < 3 || !strings.EqualFold(tokens[0], "DEFINE") {
		return nil, false, nil
	}
	kind, known := snapshot.ParseKind(tokens[1])
	if !known {
		return nil, false, nil
	}

	i := 2
	if strings.EqualFold(tokens[i], "OVERWRITE") {
		i++
	} else if i+2 < len(tokens) && strings.EqualFold(tokens[i], "IF") &&
		strings.EqualFold(tokens[i+1], "NOT") && strings.EqualFold(tokens[i+2], "EXISTS") {
		i += 3
	}
	if i >= len(tokens) {
		return nil, false, fmt.Errorf("%s: DEFINE %s without a name", source, kind.Keyword())
	}

	header := []string{"DEFINE", kind.Keyword()}
	nameTok := tokens[i]
	header = append(header, nameTok)
	i++

	obj = &snapshot.Object{Kind: kind, Name: objectName(kind, nameTok), Source: source}

	// a function signature separated from its name by a space
	if kind == snapshot.KindFunction && !strings.Contains(nameTok, "(") && i < len(tokens) && strings.HasPrefix(tokens[i], "(") {
		header = append(header, tokens[i])
		i++
	}

	switch {
	case kind.Scoped():
		if i >= len(tokens) || !strings.EqualFold(tokens[i], "ON") {
			return nil, false, fmt.Errorf("%s: DEFINE %s %s is missing its ON clause", source, kind.Keyword(), obj.Name)
		}
		header = append(header, "ON")
		i++
		// ON TABLE t and ON t define the same object
		if i < len(tokens) && strings.EqualFold(tokens[i], "TABLE") {
			i++
		}
		if i >= len(tokens) {
			return nil, false, fmt.Errorf("%s: DEFINE %s %s has no table after ON", source, kind.Keyword(), obj.Name)
		}
		obj.Scope = trimIdent(tokens[i])
		obj.Parent = snapshot.TableID(obj.Scope)
		header = append(header, tokens[i])
		i++
	case kind == snapshot.KindAccess || kind == snapshot.KindUser:
		if i+1 < len(tokens) && strings.EqualFold(tokens[i], "ON") {
			obj.Scope = strings.ToUpper(tokens[i+1])
			header = append(header, "ON", obj.Scope)
			i += 2
		}
	}

	obj.Header = strings.Join(header, " ")
	clauses, rest := parseClauses(tokens[i:])
	obj.Clauses = clauses
	obj.Definition = obj.Header
	if len(rest) > 0 {
		obj.Definition += " " + strings.Join(rest, " ")
	}
	obj.Refs = extractRefs(obj)
	return obj, true, nil
}

// parseClauses splits tokens into clauses keyed by keyword. It also returns
// the tokens with every clause keyword upper-cased, so keyword case never
// changes a definition.
func parseClauses(tokens []string) (map[string]string, []string) {
	clauses := make(map[string]string)
	canonical := make([]string, 0, len(tokens))
	current := bodyClause
	var parts []string
	flush := func() {
		text := strings.Join(parts, " ")
		if prev, ok := clauses[current]; ok && prev != "" {
			text = strings.TrimSpace(prev + " " + text)
		}
		if current != bodyClause || text != "" {
			clauses[current] = text
		}
		parts = nil
	}
	for _, tok := range tokens {
		upper := strings.ToUpper(tok)
		isKeyword := clauseKeywords[upper]
		if isKeyword && expressionClauses[current] && tok != upper && !statementKeywords[upper] {
			isKeyword = false
		}
		if isKeyword && upper != current {
			flush()
			current = upper
			canonical = append(canonical, upper)
			continue
		}
		parts = append(parts, tok)
		canonical = append(canonical, tok)
	}
	flush()
	if len(clauses) == 0 {
		return nil, canonical
	}
	return clauses, canonical
}

// objectName strips identifier quoting and, for functions, the signature.
func objectName(kind snapshot.Kind, tok string) string {
	if kind == snapshot.KindFunction {
		if idx := strings.Index(tok, "("); idx >= 0 {
			tok = tok[:idx]
		}
	}
	if kind == snapshot.KindAPI {
		return strings.Trim(tok, `"'`)
	}
	return trimIdent(tok)
}

func trimIdent(s string) string {
	s = strings.TrimPrefix(s, "`")
	s = strings.TrimSuffix(s, "`")
	s = strings.TrimPrefix(s, "⟨")
	return strings.TrimSuffix(s, "⟩")
}

func extractRefs(o *snapshot.Object) []string {
	refs := map[string]bool{}
	addFns := func(text string) {
		for _, fn := range functionRe.FindAllString(text, -1) {
			refs[snapshot.ID(snapshot.KindFunction, "", fn)] = true
		}
	}

	switch o.Kind {
	case snapshot.KindField:
		for _, m := range recordTypeRe.FindAllStringSubmatch(o.Clauses["TYPE"], -1) {
			for _, tbl := range strings.Split(m[1], "|") {
				if tbl = strings.TrimSpace(tbl); tbl != "" {
					refs[snapshot.TableID(trimIdent(tbl))] = true
				}
			}
		}
		addFns(o.Clauses["VALUE"])
		addFns(o.Clauses["DEFAULT"])
		addFns(o.Clauses["ASSERT"])
	case snapshot.KindTable:
		for _, tbl := range relationTables(o.Clauses["TYPE"]) {
			refs[snapshot.TableID(tbl)] = true
		}
	case snapshot.KindIndex:
		cols := o.Clauses["FIELDS"]
		if cols == "" {
			cols = o.Clauses["COLUMNS"]
		}
		for _, col := range strings.Split(cols, ",") {
			if col = strings.TrimSpace(col); col != "" {
				refs[snapshot.ID(snapshot.KindField, o.Scope, trimIdent(col))] = true
			}
		}
		if m := analyzerRe.FindStringSubmatch(o.Clauses["SEARCH"]); m != nil {
			refs[snapshot.ID(snapshot.KindAnalyzer, "", m[1])] = true
		}
	case snapshot.KindEvent:
		addFns(o.Clauses["WHEN"])
		addFns(o.Clauses["THEN"])
	case snapshot.KindFunction:
		addFns(o.Clauses[bodyClause])
	case snapshot.KindAccess:
		for _, key := range []string{"SIGNUP", "SIGNIN", "AUTHENTICATE"} {
			for _, m := range tableUseRe.FindAllStringSubmatch(o.Clauses[key], -1) {
				refs[snapshot.TableID(m[1])] = true
			}
			addFns(o.Clauses[key])
		}
	}

	delete(refs, o.ID())
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, 0, len(refs))
	for r := range refs {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// relationTables extracts table names from "RELATION IN a | b OUT c".
func relationTables(typeClause string) []string {
	fields := strings.Fields(strings.ReplaceAll(typeClause, "|", " | "))
	if len(fields) == 0 || !strings.EqualFold(fields[0], "RELATION") {
		return nil
	}
	var (
		out     []string
		collect bool
	)
	for _, f := range fields[1:] {
		switch strings.ToUpper(f) {
		case "IN", "FROM", "OUT", "TO":
			collect = true
		case "|":
			collect = true
		case "ENFORCED":
			collect = false
		default:
			if collect {
				out = append(out, trimIdent(f))
				collect = false
			}
		}
	}
	return out
}
