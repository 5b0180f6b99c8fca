package testutil

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ForetagInc/surrealkit/internal/schema"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// RootUser is the principal name of the built-in root account.
const RootUser = "root"

// FakeDB is an in-memory stand-in for a SurrealDB server.
//
// It understands just enough SurrealQL for surrealkit's own statements:
// USE, DEFINE and REMOVE (tracked per namespace/database), INFO FOR DB and
// INFO FOR TABLE, CREATE/UPSERT/UPDATE with CONTENT, MERGE or SET, SELECT
// with an optional single equality WHERE, DELETE and RETURN of literals.
// Anything else succeeds with a NONE value. Rules registered with Fail,
// Respond and On take precedence and are matched in registration order.
//
// Every statement is recorded with the session, scope and principal that
// ran it.
//
// Thread-safety: safe for concurrent use.
type FakeDB struct {
	mu sync.Mutex

	// Namespace and Database are the scope used by FakeDB.Query.
	Namespace string
	Database  string

	scopes     map[string]*fakeScope
	namespaces map[string]bool
	rules      []fakeRule
	users      map[string]string
	records    []recordUser
	tokens     map[string]string
	calls      []Call
	session    int
	dialErr    error
}

// Call is one statement seen by the fake.
type Call struct {
	Session   int
	Namespace string
	Database  string
	Principal string
	SQL       string
	Vars      map[string]any
}

type fakeScope struct {
	defs   []string
	tables map[string][]map[string]any
	nextID map[string]int
}

type fakeRule struct {
	re        *regexp.Regexp
	principal string
	respond   func(Call) surreal.Result
}

type recordUser struct {
	access    string
	principal string
	params    map[string]any
}

// NewFakeDB returns an empty server with a root/root account and a default
// scope of test/test.
func NewFakeDB() *FakeDB {
	return &FakeDB{
		Namespace:  "test",
		Database:   "test",
		scopes:     map[string]*fakeScope{},
		namespaces: map[string]bool{},
		users:      map[string]string{RootUser: RootUser},
		tokens:     map[string]string{},
	}
}

// Fail makes statements matching pattern return an error status.
func (f *FakeDB) Fail(pattern, message string) {
	f.FailFor("", pattern, message)
}

// FailFor is Fail restricted to one principal.
func (f *FakeDB) FailFor(principal, pattern, message string) {
	f.addRule(principal, pattern, func(Call) surreal.Result {
		return surreal.Result{Status: "ERR", Error: message}
	})
}

// Respond makes statements matching pattern return value.
func (f *FakeDB) Respond(pattern string, value any) {
	f.addRule("", pattern, func(Call) surreal.Result {
		return surreal.Result{Status: surreal.StatusOK, Value: value}
	})
}

// On registers a custom responder for statements matching pattern.
func (f *FakeDB) On(pattern string, fn func(Call) surreal.Result) {
	f.addRule("", pattern, fn)
}

func (f *FakeDB) addRule(principal, pattern string, fn func(Call) surreal.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, fakeRule{re: regexp.MustCompile("(?is)" + pattern), principal: principal, respond: fn})
}

// AddUser registers a system user accepted by SignIn.
func (f *FakeDB) AddUser(username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[username] = password
}

// AddRecordUser registers a record access principal. SignIn succeeds when the
// access method matches and every listed param is equal.
func (f *FakeDB) AddRecordUser(access, principal string, params map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, recordUser{access: access, principal: principal, params: params})
}

// AddToken registers a bearer token accepted by Authenticate.
func (f *FakeDB) AddToken(token, principal string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = principal
}

// FailDial makes every Dial return err.
func (f *FakeDB) FailDial(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErr = err
}

// Dial opens a new unauthenticated session on the default scope.
func (f *FakeDB) Dial(context.Context) (surreal.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	f.session++
	return &FakeSession{db: f, id: f.session, ns: f.Namespace, dbName: f.Database}, nil
}

// Query runs sql as root on the default scope.
func (f *FakeDB) Query(ctx context.Context, sql string, vars map[string]any) ([]surreal.Result, error) {
	s := &FakeSession{db: f, ns: f.Namespace, dbName: f.Database, principal: RootUser}
	return s.Query(ctx, sql, vars)
}

// Calls returns every recorded statement.
func (f *FakeDB) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// SQL returns the text of every recorded statement.
func (f *FakeDB) SQL() []string {
	calls := f.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.SQL
	}
	return out
}

// Rows returns a copy of the rows stored in ns/db/table.
func (f *FakeDB) Rows(ns, db, table string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.scopes[scopeKey(ns, db)]
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(sc.tables[table]))
	for _, r := range sc.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

// Defs returns the DEFINE statements stored in ns/db.
func (f *FakeDB) Defs(ns, db string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sc, ok := f.scopes[scopeKey(ns, db)]; ok {
		return append([]string(nil), sc.defs...)
	}
	return nil
}

// Scopes returns the live ns/db scopes in sorted order.
func (f *FakeDB) Scopes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.scopes))
	for k := range f.scopes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Namespaces returns the defined namespaces in sorted order.
func (f *FakeDB) Namespaces() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.namespaces))
	for ns := range f.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// FakeSession is one connection to a FakeDB.
type FakeSession struct {
	db        *FakeDB
	id        int
	ns        string
	dbName    string
	principal string
	closed    bool
}

// Principal returns the authenticated principal, or "" if none.
func (s *FakeSession) Principal() string {
	return s.principal
}

// Query implements surreal.Querier.
func (s *FakeSession) Query(ctx context.Context, sql string, vars map[string]any) ([]surreal.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, errors.New("session closed")
	}
	var out []surreal.Result
	for _, stmt := range schema.SplitStatements(sql) {
		out = append(out, s.db.exec(s, stmt, vars))
	}
	return out, nil
}

// Use implements surreal.Conn.
func (s *FakeSession) Use(_ context.Context, namespace, database string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.ns, s.dbName = namespace, database
	return nil
}

// SignIn implements surreal.Conn.
func (s *FakeSession) SignIn(_ context.Context, creds surreal.Credentials) (string, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if creds.Access != "" {
		for _, r := range s.db.records {
			if r.access == creds.Access && paramsMatch(r.params, creds.Params) {
				s.principal = r.principal
				token := "token-" + r.principal
				s.db.tokens[token] = r.principal
				return token, nil
			}
		}
		return "", errors.New("There was a problem with authentication")
	}
	if pass, ok := s.db.users[creds.Username]; ok && pass == creds.Password {
		s.principal = creds.Username
		token := "token-" + creds.Username
		s.db.tokens[token] = creds.Username
		return token, nil
	}
	return "", errors.New("There was a problem with authentication")
}

// Authenticate implements surreal.Conn.
func (s *FakeSession) Authenticate(_ context.Context, token string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	principal, ok := s.db.tokens[token]
	if !ok {
		return errors.New("token is invalid or expired")
	}
	s.principal = principal
	return nil
}

// Close implements surreal.Conn.
func (s *FakeSession) Close(context.Context) error {
	s.closed = true
	return nil
}

func paramsMatch(want, got map[string]any) bool {
	for k, v := range want {
		if fmt.Sprint(got[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func scopeKey(ns, db string) string {
	return ns + "/" + db
}

func (f *FakeDB) scope(ns, db string) *fakeScope {
	key := scopeKey(ns, db)
	sc, ok := f.scopes[key]
	if !ok {
		sc = &fakeScope{tables: map[string][]map[string]any{}, nextID: map[string]int{}}
		f.scopes[key] = sc
		f.namespaces[ns] = true
	}
	return sc
}

var (
	useRe    = regexp.MustCompile(`(?i)^USE\s+(?:(?:NS|NAMESPACE)\s+(\S+))?\s*(?:(?:DB|DATABASE)\s+(\S+))?$`)
	selectRe = regexp.MustCompile(`(?is)^SELECT\s+.+?\s+FROM\s+(ONLY\s+)?(\S+)(?:\s+WHERE\s+(\w+)\s*=\s*(\S+))?`)
	writeRe  = regexp.MustCompile(`(?is)^(CREATE|UPSERT|UPDATE)\s+(ONLY\s+)?(\S+)(?:\s+(CONTENT|MERGE|SET)\s+(.+?))?(?:\s+RETURN\s+\w+)?$`)
	deleteRe = regexp.MustCompile(`(?is)^DELETE\s+(?:FROM\s+)?(ONLY\s+)?(\S+)`)
	infoRe   = regexp.MustCompile(`(?i)^INFO\s+FOR\s+(DB|DATABASE|TABLE|TB)\s*(\S*)`)
	removeRe = regexp.MustCompile(`(?i)^REMOVE\s+(\w+)\s+(?:IF\s+EXISTS\s+)?(\S+)(?:\s+ON\s+(?:TABLE\s+)?(\S+))?`)
)

func (f *FakeDB) exec(s *FakeSession, stmt string, vars map[string]any) surreal.Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := Call{Session: s.id, Namespace: s.ns, Database: s.dbName, Principal: s.principal, SQL: stmt, Vars: vars}
	f.calls = append(f.calls, call)

	for _, r := range f.rules {
		if (r.principal == "" || r.principal == s.principal) && r.re.MatchString(stmt) {
			return r.respond(call)
		}
	}

	ok := func(v any) surreal.Result { return surreal.Result{Status: surreal.StatusOK, Value: v} }
	fail := func(format string, args ...any) surreal.Result {
		return surreal.Result{Status: "ERR", Error: fmt.Sprintf(format, args...)}
	}

	keyword := strings.ToUpper(strings.Fields(stmt)[0])
	switch keyword {
	case "USE":
		m := useRe.FindStringSubmatch(stmt)
		if m == nil {
			return fail("Parse error: invalid USE statement")
		}
		if m[1] != "" {
			s.ns = unquote(m[1])
		}
		if m[2] != "" {
			s.dbName = unquote(m[2])
		}
		return ok(nil)

	case "DEFINE":
		fields := strings.Fields(stmt)
		if len(fields) > 2 {
			switch strings.ToUpper(fields[1]) {
			case "NAMESPACE", "NS":
				f.namespaces[unquote(fields[len(fields)-1])] = true
				return ok(nil)
			case "DATABASE", "DB":
				f.scope(s.ns, unquote(fields[len(fields)-1]))
				return ok(nil)
			}
		}
		f.define(f.scope(s.ns, s.dbName), stmt)
		return ok(nil)

	case "REMOVE":
		m := removeRe.FindStringSubmatch(stmt)
		if m == nil {
			return fail("Parse error: invalid REMOVE statement")
		}
		f.remove(s, strings.ToUpper(m[1]), unquote(m[2]), unquote(m[3]))
		return ok(nil)

	case "INFO":
		m := infoRe.FindStringSubmatch(stmt)
		if m == nil {
			return fail("Parse error: invalid INFO statement")
		}
		sc := f.scope(s.ns, s.dbName)
		if strings.HasPrefix(strings.ToUpper(m[1]), "T") {
			return ok(tableInfo(sc, unquote(strings.TrimSuffix(m[2], ";"))))
		}
		return ok(dbInfo(sc))

	case "CREATE", "UPSERT", "UPDATE":
		m := writeRe.FindStringSubmatch(stmt)
		if m == nil {
			return fail("Parse error: invalid %s statement", keyword)
		}
		data, err := assignments(m[4], m[5], vars)
		if err != nil {
			return fail("%v", err)
		}
		return ok(f.write(f.scope(s.ns, s.dbName), keyword, m[3], strings.ToUpper(m[4]), data, m[2] != ""))

	case "SELECT":
		m := selectRe.FindStringSubmatch(stmt)
		if m == nil {
			return ok([]any{})
		}
		return ok(f.selectRows(f.scope(s.ns, s.dbName), m[2], m[1] != "", m[3], m[4], vars))

	case "DELETE":
		m := deleteRe.FindStringSubmatch(stmt)
		if m != nil {
			sc := f.scope(s.ns, s.dbName)
			table, id := splitTarget(m[2])
			var kept []map[string]any
			for _, r := range sc.tables[table] {
				if id != "" && r["id"] != table+":"+id {
					kept = append(kept, r)
				}
			}
			sc.tables[table] = kept
		}
		return ok([]any{})

	case "RETURN":
		return ok(literal(strings.TrimSpace(stmt[len("RETURN"):]), vars))

	default:
		return ok(nil)
	}
}

// define stores a DEFINE statement, replacing an earlier definition of the
// same object.
func (f *FakeDB) define(sc *fakeScope, stmt string) {
	obj, tracked, err := schema.ParseDefinition(stmt, "")
	if err != nil || !tracked {
		sc.defs = append(sc.defs, stmt)
		return
	}
	for i, existing := range sc.defs {
		prev, ok, _ := schema.ParseDefinition(existing, "")
		if ok && prev.ID() == obj.ID() {
			sc.defs[i] = obj.Definition
			return
		}
	}
	sc.defs = append(sc.defs, obj.Definition)
}

func (f *FakeDB) remove(s *FakeSession, kind, name, table string) {
	switch kind {
	case "NAMESPACE", "NS":
		delete(f.namespaces, name)
		for key := range f.scopes {
			if strings.HasPrefix(key, name+"/") {
				delete(f.scopes, key)
			}
		}
		return
	case "DATABASE", "DB":
		delete(f.scopes, scopeKey(s.ns, name))
		return
	}

	sc := f.scope(s.ns, s.dbName)
	k, known := snapshot.ParseKind(kind)
	if !known {
		return
	}
	if k == snapshot.KindParam {
		name = strings.TrimPrefix(name, "$")
	}
	var kept []string
	for _, def := range sc.defs {
		obj, ok, _ := schema.ParseDefinition(def, "")
		if ok {
			objName := strings.TrimPrefix(obj.Name, "$")
			if obj.Kind == k && objName == name && (table == "" || obj.Scope == table || !k.Scoped()) {
				continue
			}
			if k == snapshot.KindTable && obj.Kind.Scoped() && obj.Scope == name {
				continue
			}
		}
		kept = append(kept, def)
	}
	sc.defs = kept
	if k == snapshot.KindTable {
		delete(sc.tables, name)
	}
}

func dbInfo(sc *fakeScope) map[string]any {
	sections := map[snapshot.Kind]string{
		snapshot.KindAnalyzer: "analyzers",
		snapshot.KindFunction: "functions",
		snapshot.KindParam:    "params",
		snapshot.KindTable:    "tables",
		snapshot.KindAccess:   "accesses",
		snapshot.KindUser:     "users",
		snapshot.KindAPI:      "apis",
	}
	info := map[string]any{}
	for _, name := range sections {
		info[name] = map[string]any{}
	}
	for _, def := range sc.defs {
		obj, ok, _ := schema.ParseDefinition(def, "")
		if !ok {
			continue
		}
		if section, ok := sections[obj.Kind]; ok {
			info[section].(map[string]any)[obj.Name] = obj.Definition
		}
	}
	return info
}

func tableInfo(sc *fakeScope, table string) map[string]any {
	sections := map[snapshot.Kind]string{
		snapshot.KindField: "fields",
		snapshot.KindIndex: "indexes",
		snapshot.KindEvent: "events",
	}
	info := map[string]any{"fields": map[string]any{}, "indexes": map[string]any{}, "events": map[string]any{}, "tables": map[string]any{}}
	for _, def := range sc.defs {
		obj, ok, _ := schema.ParseDefinition(def, "")
		if !ok || obj.Scope != table {
			continue
		}
		if section, ok := sections[obj.Kind]; ok {
			info[section].(map[string]any)[obj.Name] = obj.Definition
		}
	}
	return info
}

func (f *FakeDB) write(sc *fakeScope, keyword, target, mode string, data map[string]any, only bool) any {
	table, id := splitTarget(target)
	if id == "" && keyword == "CREATE" {
		sc.nextID[table]++
		id = strconv.Itoa(sc.nextID[table])
	}

	var written []any
	if id == "" {
		// UPDATE/UPSERT of a whole table touches every row
		for _, r := range sc.tables[table] {
			applyWrite(r, mode, data)
			written = append(written, copyRow(r))
		}
		return written
	}

	rid := table + ":" + id
	for _, r := range sc.tables[table] {
		if r["id"] == rid {
			if keyword == "CREATE" {
				return nil
			}
			applyWrite(r, mode, data)
			if only {
				return copyRow(r)
			}
			return []any{copyRow(r)}
		}
	}
	if keyword == "UPDATE" {
		return []any{}
	}
	row := map[string]any{}
	applyWrite(row, mode, data)
	row["id"] = rid
	sc.tables[table] = append(sc.tables[table], row)
	if only {
		return copyRow(row)
	}
	return []any{copyRow(row)}
}

func applyWrite(row map[string]any, mode string, data map[string]any) {
	if mode == "CONTENT" {
		id := row["id"]
		for k := range row {
			delete(row, k)
		}
		if id != nil {
			row["id"] = id
		}
	}
	for k, v := range data {
		if k == "id" {
			continue
		}
		row[k] = v
	}
}

func (f *FakeDB) selectRows(sc *fakeScope, target string, only bool, field, value string, vars map[string]any) any {
	table, id := splitTarget(strings.TrimSuffix(target, ";"))
	var want any
	if field != "" {
		want = literal(value, vars)
	}
	var rows []any
	for _, r := range sc.tables[table] {
		if id != "" && r["id"] != table+":"+id {
			continue
		}
		if field != "" && fmt.Sprint(r[field]) != fmt.Sprint(want) {
			continue
		}
		rows = append(rows, copyRow(r))
	}
	if only {
		if len(rows) == 0 {
			return nil
		}
		return rows[0]
	}
	if rows == nil {
		return []any{}
	}
	return rows
}

// assignments decodes the data clause of a write statement.
func assignments(mode, text string, vars map[string]any) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if mode == "" || text == "" {
		return map[string]any{}, nil
	}
	if strings.ToUpper(mode) != "SET" {
		// object literals are not evaluated; only bound variables carry data
		if m, ok := literal(text, vars).(map[string]any); ok {
			return m, nil
		}
		return map[string]any{}, nil
	}
	out := map[string]any{}
	for _, part := range splitTopLevel(text, ',') {
		k, v, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("Parse error: invalid SET clause %q", part)
		}
		out[strings.TrimSpace(k)] = literal(strings.TrimSpace(v), vars)
	}
	return out, nil
}

// literal resolves a variable, string, number or boolean.
func literal(s string, vars map[string]any) any {
	s = strings.TrimSuffix(strings.TrimSpace(s), ";")
	switch {
	case s == "":
		return nil
	case strings.HasPrefix(s, "$"):
		return vars[s[1:]]
	case len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0]:
		return s[1 : len(s)-1]
	case strings.EqualFold(s, "true"):
		return true
	case strings.EqualFold(s, "false"):
		return false
	case strings.EqualFold(s, "NONE"), strings.EqualFold(s, "NULL"):
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func splitTopLevel(s string, sep rune) []string {
	var (
		parts []string
		depth int
		quote rune
		start int
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(' || r == '{' || r == '[':
			depth++
		case r == ')' || r == '}' || r == ']':
			depth--
		case r == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func splitTarget(target string) (table, id string) {
	target = unquote(target)
	table, id, _ = strings.Cut(target, ":")
	return unquote(table), unquote(id)
}

func unquote(s string) string {
	s = strings.TrimSuffix(s, ";")
	return strings.Trim(s, "`'\"⟨⟩")
}

func copyRow(r map[string]any) map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
