package harness

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Check is one evaluated assertion within a case.
type Check struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Lookup returns the value at a dot path. Numeric segments index arrays and
// empty segments are skipped, so "" and "." select the root.
func Lookup(value any, path string) (any, bool) {
	cursor := value
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			continue
		}
		if idx, err := strconv.Atoi(seg); err == nil {
			arr, ok := cursor.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cursor = arr[idx]
			continue
		}
		obj, ok := cursor.(map[string]any)
		if !ok {
			return nil, false
		}
		cursor, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cursor, true
}

// AssertJSON evaluates a against value. index numbers the check.
func AssertJSON(value any, a JSONAssertion, index int) Check {
	label := fmt.Sprintf("json_assertion_%d", index+1)
	fail := func(format string, args ...any) Check {
		return Check{Name: label, Message: fmt.Sprintf(format, args...)}
	}

	found, exists := Lookup(normalizeJSON(value), a.Path)
	if a.Exists != nil && *a.Exists != exists {
		return fail("path '%s' existence mismatch: expected %t got %t", a.Path, *a.Exists, exists)
	}
	if !exists {
		if a.Exists != nil {
			return Check{Name: label, Passed: true, Message: fmt.Sprintf("path '%s' absent as expected", a.Path)}
		}
		return fail("path '%s' not found", a.Path)
	}

	if a.Equals != nil {
		want := normalizeJSON(a.Equals)
		if !reflect.DeepEqual(found, want) {
			return fail("path '%s' expected %s, got %s", a.Path, jsonText(want), jsonText(found))
		}
	}
	text := valueText(found)
	if a.Contains != "" && !strings.Contains(text, a.Contains) {
		return fail("path '%s' missing substring '%s' in '%s'", a.Path, a.Contains, text)
	}
	if a.Regex != "" {
		re, err := regexp.Compile(a.Regex)
		if err != nil {
			return fail("invalid regex '%s' for path '%s': %v", a.Regex, a.Path, err)
		}
		if !re.MatchString(text) {
			return fail("path '%s' regex '%s' did not match '%s'", a.Path, a.Regex, text)
		}
	}
	return Check{Name: label, Passed: true, Message: fmt.Sprintf("path '%s' assertion passed", a.Path)}
}

// AssertHeader evaluates a against response headers.
func AssertHeader(h http.Header, a HeaderAssertion, index int) Check {
	label := fmt.Sprintf("header_assertion_%d", index+1)
	fail := func(format string, args ...any) Check {
		return Check{Name: label, Message: fmt.Sprintf(format, args...)}
	}

	values := h.Values(a.Name)
	exists := len(values) > 0
	if a.Exists != nil && *a.Exists != exists {
		return fail("header '%s' existence mismatch: expected %t got %t", a.Name, *a.Exists, exists)
	}
	if !exists {
		if a.Exists != nil {
			return Check{Name: label, Passed: true, Message: fmt.Sprintf("header '%s' absent as expected", a.Name)}
		}
		return fail("header '%s' not found", a.Name)
	}

	value := strings.Join(values, ", ")
	if a.Equals != "" && value != a.Equals {
		return fail("header '%s' expected '%s' got '%s'", a.Name, a.Equals, value)
	}
	if a.Contains != "" && !strings.Contains(value, a.Contains) {
		return fail("header '%s' missing substring '%s' in '%s'", a.Name, a.Contains, value)
	}
	if a.Regex != "" {
		re, err := regexp.Compile(a.Regex)
		if err != nil {
			return fail("invalid regex '%s' for header '%s': %v", a.Regex, a.Name, err)
		}
		if !re.MatchString(value) {
			return fail("header '%s' regex '%s' did not match '%s'", a.Name, a.Regex, value)
		}
	}
	return Check{Name: label, Passed: true, Message: fmt.Sprintf("header '%s' assertion passed", a.Name)}
}

// normalizeJSON round-trips v through JSON so values decoded from YAML,
// TOML, the driver and HTTP bodies compare alike (numbers become float64,
// typed maps and slices become map[string]any and []any).
func normalizeJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// valueText renders strings bare and everything else as JSON.
func valueText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return jsonText(v)
}

func jsonText(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func allPassed(checks []Check) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}
