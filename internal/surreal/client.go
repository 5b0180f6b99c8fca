package surreal

import (
	"context"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"
)

// SDKDialer dials SurrealDB through the official Go SDK.
type SDKDialer struct {
	// Endpoint accepts http(s):// or ws(s):// URLs with or without /rpc.
	Endpoint string
}

// Dial opens a new session.
func (d SDKDialer) Dial(ctx context.Context) (Conn, error) {
	endpoint, err := RPCEndpoint(d.Endpoint)
	if err != nil {
		return nil, err
	}
	db, err := surrealdb.FromEndpointURLString(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", endpoint, err)
	}
	return &Client{db: db}, nil
}

// RPCEndpoint converts a configured host into the websocket RPC endpoint the
// SDK expects.
func RPCEndpoint(host string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(host))
	if err != nil {
		return "", fmt.Errorf("invalid database host %q: %w", host, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid database host %q: unsupported scheme %q", host, u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/rpc") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/rpc"
	}
	return u.String(), nil
}

// Client is a Conn backed by the SDK.
type Client struct {
	db *surrealdb.DB
}

// Query implements Querier.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]any) ([]Result, error) {
	res, err := surrealdb.Query[any](ctx, c.db, sql, vars)
	if res == nil {
		if err != nil {
			return nil, err
		}
		return nil, nil
	}

	out := make([]Result, len(*res))
	failed := false
	for i, r := range *res {
		out[i] = Result{Status: r.Status, Value: normalize(r.Result)}
		if r.Status != StatusOK {
			failed = true
			out[i].Error = fmt.Sprint(out[i].Value)
		}
	}
	if err != nil && !failed {
		// the SDK reported a statement error without flagging a result
		return nil, err
	}
	return out, nil
}

// Use implements Conn.
func (c *Client) Use(ctx context.Context, namespace, database string) error {
	return c.db.Use(ctx, namespace, database)
}

// SignIn implements Conn.
func (c *Client) SignIn(ctx context.Context, creds Credentials) (string, error) {
	auth := map[string]any{}
	set := func(key, value string) {
		if value != "" {
			auth[key] = value
		}
	}
	set("NS", creds.Namespace)
	set("DB", creds.Database)
	set("AC", creds.Access)
	set("user", creds.Username)
	set("pass", creds.Password)
	for k, v := range creds.Params {
		auth[k] = v
	}
	return c.db.SignIn(ctx, auth)
}

// Authenticate implements Conn.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	return c.db.Authenticate(ctx, token)
}

// Close implements Conn.
func (c *Client) Close(ctx context.Context) error {
	return c.db.Close(ctx)
}

// normalize converts SDK values (CBOR maps keyed by any, record ids, custom
// datetimes) into plain JSON-compatible Go values.
func normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64, float32, int, int64, int32, uint64, uint32:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case fmt.Stringer:
		return val.String()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = normalize(iter.Value().Interface())
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}
