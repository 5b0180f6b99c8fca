package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/surreal"
)

// Session is a resolved actor: an authenticated connection scoped to one
// suite plus the headers it contributes to api_request cases. Headers
// actors have no connection.
type Session struct {
	Name    string
	Kind    ActorKind
	Conn    surreal.Conn
	Headers map[string]string
}

// Sessions holds the resolved actors of one suite run.
type Sessions map[string]*Session

// Get returns the named session.
func (s Sessions) Get(name string) (*Session, error) {
	if sess, ok := s[name]; ok {
		return sess, nil
	}
	return nil, errs.Resolution(name, "actor not configured", nil)
}

// Close closes every connection. Errors are ignored; sessions are
// short-lived and the scope is removed afterwards.
func (s Sessions) Close(ctx context.Context) {
	for _, sess := range s {
		if sess.Conn != nil {
			_ = sess.Conn.Close(ctx)
		}
	}
}

// MergeActors returns global overlaid with suite. Suite declarations win.
func MergeActors(global, suite map[string]ActorSpec) map[string]ActorSpec {
	merged := make(map[string]ActorSpec, len(global)+len(suite))
	for name, spec := range global {
		merged[name] = spec
	}
	for name, spec := range suite {
		merged[name] = spec
	}
	return merged
}

// Resolver turns actor declarations into sessions.
type Resolver struct {
	Dialer surreal.Dialer

	// Root holds the configured root credentials. They back the implicit
	// root actor and are the defaults of declared root actors.
	Root surreal.Credentials

	// LookupEnv reads secret sources. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

func (r *Resolver) lookupEnv(key string) (string, bool) {
	if r.LookupEnv != nil {
		return r.LookupEnv(key)
	}
	return os.LookupEnv(key)
}

// ResolveAll resolves the implicit root actor and every declared actor for
// scope. On failure the sessions opened so far are closed.
func (r *Resolver) ResolveAll(ctx context.Context, specs map[string]ActorSpec, scope Scope) (Sessions, error) {
	sessions := Sessions{}
	root, err := r.RootSession(ctx, scope)
	if err != nil {
		return nil, err
	}
	sessions[RootActor] = root

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sess, err := r.Resolve(ctx, name, specs[name], scope)
		if err != nil {
			sessions.Close(ctx)
			return nil, err
		}
		if old, ok := sessions[name]; ok && old.Conn != nil {
			_ = old.Conn.Close(ctx)
		}
		sessions[name] = sess
	}
	return sessions, nil
}

// RootSession signs in with the configured root credentials.
func (r *Resolver) RootSession(ctx context.Context, scope Scope) (*Session, error) {
	return r.Resolve(ctx, RootActor, ActorSpec{Kind: ActorRoot}, scope)
}

// Resolve builds the session for one actor.
func (r *Resolver) Resolve(ctx context.Context, name string, spec ActorSpec, scope Scope) (*Session, error) {
	headers := make(map[string]string, len(spec.Headers))
	for k, v := range spec.Headers {
		headers[k] = v
	}
	if spec.Kind == ActorHeaders {
		return &Session{Name: name, Kind: spec.Kind, Headers: headers}, nil
	}

	v := valueResolver{actor: name, lookup: r.lookupEnv}
	ns := v.value("namespace", spec.Namespace, spec.NamespaceEnv, scope.Namespace)
	db := v.value("database", spec.Database, spec.DatabaseEnv, scope.Database)

	var (
		creds surreal.Credentials
		token string
	)
	switch spec.Kind {
	case ActorRoot:
		creds.Username = v.value("username", spec.Username, spec.UsernameEnv, r.Root.Username)
		creds.Password = v.value("password", "", spec.PasswordEnv, r.Root.Password)
	case ActorNamespace:
		creds.Namespace = ns
		creds.Username = v.required("username", spec.Username, spec.UsernameEnv)
		creds.Password = v.required("password", "", spec.PasswordEnv)
	case ActorDatabase:
		creds.Namespace, creds.Database = ns, db
		creds.Username = v.required("username", spec.Username, spec.UsernameEnv)
		creds.Password = v.required("password", "", spec.PasswordEnv)
	case ActorRecord:
		creds.Namespace, creds.Database = ns, db
		creds.Access = v.required("access method", spec.Access, spec.AccessEnv)
		creds.Params = v.params(spec.Params, spec.ParamsEnv)
	case ActorToken:
		token = v.required("token", "", spec.TokenEnv)
	default:
		return nil, errs.Resolution(name, fmt.Sprintf("unknown actor kind %q", spec.Kind), nil)
	}
	if v.err != nil {
		return nil, v.err
	}

	conn, err := r.Dialer.Dial(ctx)
	if err != nil {
		return nil, errs.Resolution(name, "connect", err)
	}
	fail := func(msg string, err error) (*Session, error) {
		_ = conn.Close(context.WithoutCancel(ctx))
		return nil, errs.Resolution(name, msg, err)
	}

	if spec.Kind == ActorToken {
		if err := conn.Authenticate(ctx, token); err != nil {
			return fail("token authentication failed", err)
		}
	} else {
		token, err = conn.SignIn(ctx, creds)
		if err != nil {
			return fail(string(spec.Kind)+" signin failed", err)
		}
	}
	if err := conn.Use(ctx, ns, db); err != nil {
		return fail(fmt.Sprintf("use %s/%s", ns, db), err)
	}

	if token != "" && !hasHeader(headers, "Authorization") {
		headers["Authorization"] = "Bearer " + token
	}
	return &Session{Name: name, Kind: spec.Kind, Conn: conn, Headers: headers}, nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// valueResolver reads literal-or-env values and keeps the first error.
type valueResolver struct {
	actor  string
	lookup func(string) (string, bool)
	err    error
}

// value returns the literal, else the env var, else def.
func (v *valueResolver) value(label, literal, envKey, def string) string {
	if strings.TrimSpace(literal) != "" {
		return literal
	}
	if envKey != "" {
		val, ok := v.lookup(envKey)
		if !ok {
			v.fail(fmt.Sprintf("%s: environment variable %s is not set", label, envKey))
			return ""
		}
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return def
}

func (v *valueResolver) required(label, literal, envKey string) string {
	val := v.value(label, literal, envKey, "")
	if val == "" && v.err == nil {
		if envKey != "" {
			v.fail(fmt.Sprintf("%s: environment variable %s is empty", label, envKey))
		} else {
			v.fail("missing " + label)
		}
	}
	return val
}

// params merges the JSON object in envKey over the literal params.
func (v *valueResolver) params(literal map[string]any, envKey string) map[string]any {
	out := make(map[string]any, len(literal))
	for k, val := range literal {
		out[k] = val
	}
	if envKey == "" {
		return out
	}
	raw, ok := v.lookup(envKey)
	if !ok {
		v.fail(fmt.Sprintf("params: environment variable %s is not set", envKey))
		return out
	}
	var fromEnv map[string]any
	if err := json.Unmarshal([]byte(raw), &fromEnv); err != nil {
		v.fail(fmt.Sprintf("params: environment variable %s is not a JSON object: %v", envKey, err))
		return out
	}
	for k, val := range fromEnv {
		out[k] = val
	}
	return out
}

func (v *valueResolver) fail(msg string) {
	if v.err == nil {
		v.err = errs.Resolution(v.actor, msg, nil)
	}
}
