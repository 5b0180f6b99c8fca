package migration

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ForetagInc/surrealkit/internal/errs"
	"github.com/ForetagInc/surrealkit/internal/schema"
	"github.com/ForetagInc/surrealkit/internal/snapshot"
)

// Marker is the first line of every generated migration file.
const Marker = "-- surrealkit:migration"

// TimestampLayout prefixes migration identities so lexical order is creation
// order.
const TimestampLayout = "20060102150405"

// Migration is one immutable migration artifact.
type Migration struct {
	// ID is the file stem: <timestamp>_<slug>.
	ID          string
	Name        string
	CreatedAt   time.Time
	From        string
	To          string
	Destructive bool
	Checksum    string
	Generator   string
	Statements  []string

	// Path is where the artifact was read from or written to.
	Path string
}

// Checksum hashes the rendered statement body.
func Checksum(statements []string) string {
	return snapshot.HashWithDomain(snapshot.DomainMigration, body(statements))
}

func body(statements []string) []byte {
	var b bytes.Buffer
	for _, s := range statements {
		b.WriteString(strings.TrimSuffix(strings.TrimSpace(s), ";"))
		b.WriteString(";\n")
	}
	return b.Bytes()
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases name and collapses everything else to underscores.
func Slug(name string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if s == "" {
		return "migration"
	}
	return s
}

// NewID builds the identity for a migration created at t.
func NewID(t time.Time, name string) string {
	return t.UTC().Format(TimestampLayout) + "_" + Slug(name)
}

// Render produces the file content: a comment header followed by one
// statement per line.
func (m *Migration) Render() []byte {
	var b bytes.Buffer
	b.WriteString(Marker + "\n")
	fmt.Fprintf(&b, "-- id: %s\n", m.ID)
	fmt.Fprintf(&b, "-- name: %s\n", m.Name)
	fmt.Fprintf(&b, "-- created_at: %s\n", m.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "-- from: %s\n", m.From)
	fmt.Fprintf(&b, "-- to: %s\n", m.To)
	fmt.Fprintf(&b, "-- destructive: %t\n", m.Destructive)
	fmt.Fprintf(&b, "-- checksum: %s\n", m.Checksum)
	fmt.Fprintf(&b, "-- generator: %s\n", m.Generator)
	b.WriteString("\n")
	b.Write(body(m.Statements))
	return b.Bytes()
}

// Parse reads an artifact. Files without the marker are accepted as
// hand-written migrations whose identity comes from the file name. A
// recorded checksum that does not match the body is a ConfigError.
func Parse(path string, data []byte) (*Migration, error) {
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := &Migration{ID: id, Name: id, Path: path}

	var (
		header   = map[string]string{}
		rest     bytes.Buffer
		inHeader = true
		lineNo   = 0
	)
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		lineNo++
		if inHeader {
			if lineNo == 1 && strings.TrimSpace(line) != Marker {
				inHeader = false
			} else if strings.HasPrefix(line, "-- ") || strings.TrimSpace(line) == Marker {
				if k, v, ok := strings.Cut(strings.TrimPrefix(line, "-- "), ": "); ok {
					header[k] = strings.TrimSpace(v)
				}
				continue
			} else {
				inHeader = false
			}
		}
		rest.WriteString(line)
		rest.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read migration %s: %w", path, err)
	}

	m.Statements = schema.SplitStatements(rest.String())
	computed := Checksum(m.Statements)

	if len(header) == 0 {
		m.Checksum = computed
		return m, nil
	}

	if v := header["name"]; v != "" {
		m.Name = v
	}
	if v := header["id"]; v != "" && v != id {
		return nil, errs.Config(path, "migration header id %q does not match file name %q", v, id)
	}
	if v := header["created_at"]; v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, errs.WrapConfig(path, "invalid created_at", err)
		}
		m.CreatedAt = t
	}
	if v := header["destructive"]; v != "" {
		d, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errs.WrapConfig(path, "invalid destructive flag", err)
		}
		m.Destructive = d
	}
	m.From = header["from"]
	m.To = header["to"]
	m.Generator = header["generator"]
	m.Checksum = header["checksum"]
	if m.Checksum != "" && m.Checksum != computed {
		e := errs.Config(m.ID, "migration body was edited after generation")
		e.Expected, e.Actual = m.Checksum, computed
		return nil, e
	}
	m.Checksum = computed
	return m, nil
}

// Write stores the artifact under dir. An existing file is never
// overwritten.
func (m *Migration) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create migrations dir: %w", err)
	}
	path := filepath.Join(dir, m.ID+schema.Extension)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errs.Config(m.ID, "migration %s already exists", path)
		}
		return fmt.Errorf("create migration %s: %w", path, err)
	}
	if _, err := f.Write(m.Render()); err != nil {
		f.Close()
		return fmt.Errorf("write migration %s: %w", path, err)
	}
	m.Path = path
	return f.Close()
}

// LoadDir reads every .surql artifact in dir, sorted by identity. A missing
// directory yields no migrations.
func LoadDir(dir string) ([]*Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var out []*Migration
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), schema.Extension) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", path, err)
		}
		m, err := Parse(path, data)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
