package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxResponseBody bounds how much of a response api_request reads.
const maxResponseBody = 4 << 20

func evalAPIRequest(ctx context.Context, env *Env, c *APIRequest) Outcome {
	sess, err := env.Sessions.Get(c.ActorName())
	if err != nil {
		return failed("%v", err)
	}
	if env.BaseURL == "" && !isAbsoluteURL(c.Path) {
		return failed("api_request requires a base URL (--base-url, defaults.base_url or SURREALKIT_TEST_BASE_URL)")
	}

	timeout := env.Timeout
	if c.TimeoutMS > 0 {
		timeout = time.Duration(c.TimeoutMS) * time.Millisecond
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := newAPIRequest(ctx, env.BaseURL, c, sess.Headers)
	if err != nil {
		return failed("build request: %v", err)
	}
	client := env.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return failed("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return failed("read response: %v", err)
	}

	checks := []Check{{
		Name:    "status",
		Passed:  resp.StatusCode == c.ExpectedStatus,
		Message: fmt.Sprintf("expected status %d, got %d", c.ExpectedStatus, resp.StatusCode),
	}}
	for i, a := range c.HeaderAssertions {
		checks = append(checks, AssertHeader(resp.Header, a, i))
	}
	if len(c.BodyAssertions) > 0 {
		var body any
		if err := json.Unmarshal(raw, &body); err != nil {
			checks = append(checks, Check{Name: "body", Message: "response body is not JSON: " + err.Error()})
		} else {
			for i, a := range c.BodyAssertions {
				checks = append(checks, AssertJSON(body, a, i))
			}
		}
	}
	return outcomeOf(checks, fmt.Sprintf("api assertions failed (status=%d)", resp.StatusCode))
}

// newAPIRequest builds the request for c. Actor headers are applied first so
// case headers override them.
func newAPIRequest(ctx context.Context, baseURL string, c *APIRequest, actorHeaders map[string]string) (*http.Request, error) {
	var body io.Reader
	if c.Body != nil {
		data, err := json.Marshal(normalizeJSON(c.Body))
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	method := c.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), joinURL(baseURL, c.Path), body)
	if err != nil {
		return nil, err
	}
	if c.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range actorHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func joinURL(base, path string) string {
	if isAbsoluteURL(path) {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func isAbsoluteURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
