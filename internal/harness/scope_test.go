package harness

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Orders":                 "orders",
		"guest / orders.toml":    "guest_orders_toml",
		"--already__underscored": "already_underscored",
		"Ünïcode":                "n_code",
		"":                       "suite",
		"!!!":                    "suite",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}
}

func TestNewScope(t *testing.T) {
	s := NewScope("app", "main-db", "run1", 3, &Suite{Name: "Guest Orders"})
	assert.Equal(t, "app_sk_test_run1_3_guest_orders", s.Namespace)
	assert.Equal(t, "main_db_sk_test_run1_3_guest_orders", s.Database)
	assert.Equal(t, s.Namespace+"/"+s.Database, s.String())

	unnamed := NewScope("app", "db", "run1", 4, &Suite{File: "nested/perm.yaml"})
	assert.Equal(t, "app_sk_test_run1_4_nested_perm_yaml", unnamed.Namespace)
}

func TestNewScope_DistinctForSameSlug(t *testing.T) {
	a := NewScope("app", "db", "run1", 1, &Suite{Name: "orders"})
	b := NewScope("app", "db", "run1", 2, &Suite{Name: "Orders!"})
	assert.NotEqual(t, a, b)
}

func TestUUIDRunIDs(t *testing.T) {
	ids := UUIDRunIDs{}
	a, b := ids.NewRunID(), ids.NewRunID()
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), a)
	assert.NotEqual(t, a, b)
}

func TestResolveBaseURL(t *testing.T) {
	assert.Equal(t, "http://flag", ResolveBaseURL("http://flag/", "http://cfg", "http://env", "ws://db"))
	assert.Equal(t, "http://cfg", ResolveBaseURL("", "http://cfg", "http://env", "ws://db"))
	assert.Equal(t, "http://env", ResolveBaseURL("", " ", "http://env", "ws://db"))
	assert.Equal(t, "http://db:8000", ResolveBaseURL("", "", "", "ws://db:8000"))
	assert.Equal(t, "https://db.example.com", ResolveBaseURL("", "", "", "wss://db.example.com"))
	assert.Equal(t, "", ResolveBaseURL("", "", "", ""))
}

func TestResolveTimeout(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, ResolveTimeout(500, 2000, "3000"))
	assert.Equal(t, 2*time.Second, ResolveTimeout(0, 2000, "3000"))
	assert.Equal(t, 3*time.Second, ResolveTimeout(0, 0, "3000"))
	assert.Equal(t, DefaultTimeout, ResolveTimeout(0, 0, "soon"))
	assert.Equal(t, DefaultTimeout, ResolveTimeout(-1, 0, ""))
}
