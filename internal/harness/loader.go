package harness

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ForetagInc/surrealkit/internal/errs"
)

//go:embed suite.cue
var suiteSchemaSource string

// Format is a suite or config file encoding.
type Format string

// Supported formats.
const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// FormatOf returns the format implied by a file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, true
	case ".yaml", ".yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

// Specs is everything loaded from the tests directory.
type Specs struct {
	Config *Config

	// ConfigFile is the config path, or "" when none exists.
	ConfigFile string

	// Suites are sorted by File.
	Suites []*Suite
}

// configNames are tried in order inside the tests directory.
var configNames = []string{"config.toml", "config.yaml", "config.yml"}

// Load reads the global config and every suite under testsDir. Problems in
// all files are collected into one ConfigError.
func Load(testsDir string) (*Specs, error) {
	specs := &Specs{Config: &Config{}}
	for _, name := range configNames {
		path := filepath.Join(testsDir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		format, _ := FormatOf(path)
		cfg, err := ParseConfig(data, format, path)
		if err != nil {
			return nil, err
		}
		specs.Config, specs.ConfigFile = cfg, path
		break
	}

	suitesDir := filepath.Join(testsDir, "suites")
	var files []string
	err := filepath.WalkDir(suitesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := FormatOf(path); ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("scan %s: %w", suitesDir, err)
	}
	if len(files) == 0 {
		return nil, errs.Config(suitesDir, "no suite files found")
	}
	sort.Strings(files)

	problems := map[string]string{}
	for _, path := range files {
		rel, err := filepath.Rel(suitesDir, path)
		if err != nil {
			rel = path
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		format, _ := FormatOf(path)
		suite, err := ParseSuite(data, format, filepath.ToSlash(rel))
		if err != nil {
			problems[path] = problemText(err)
			continue
		}
		suite.Dir = filepath.Dir(path)
		specs.Suites = append(specs.Suites, suite)
	}
	if len(problems) > 0 {
		e := errs.Config(suitesDir, "%d suite file(s) are invalid", len(problems))
		e.Details = problems
		return nil, e
	}

	if err := checkActorRefs(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func problemText(err error) string {
	var e *errs.Error
	if errors.As(err, &e) && e.Code == errs.CodeConfig && e.Err == nil {
		return e.Message
	}
	return err.Error()
}

// ParseConfig validates and decodes a global test config document.
func ParseConfig(data []byte, format Format, name string) (*Config, error) {
	doc, err := decodeDocument(data, format, name)
	if err != nil {
		return nil, err
	}
	if err := checkSecrets(doc, name); err != nil {
		return nil, err
	}
	if err := validate(doc, "#Config", name); err != nil {
		return nil, err
	}
	var cfg Config
	if err := decodeStrict(doc, &cfg); err != nil {
		return nil, errs.WrapConfig(name, "decode config", err)
	}
	normalizeActors(cfg.Actors)
	if err := checkFixtures(cfg.Fixtures, name); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseSuite validates and decodes one suite document. file labels errors
// and becomes Suite.File.
func ParseSuite(data []byte, format Format, file string) (*Suite, error) {
	doc, err := decodeDocument(data, format, file)
	if err != nil {
		return nil, err
	}
	if err := checkSecrets(doc, file); err != nil {
		return nil, err
	}
	if err := validate(doc, "#Suite", file); err != nil {
		return nil, err
	}

	rawCases, _ := doc["cases"].([]any)
	header := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "cases" {
			header[k] = v
		}
	}
	suite := &Suite{File: file}
	if err := decodeStrict(header, suite); err != nil {
		return nil, errs.WrapConfig(file, "decode suite", err)
	}
	normalizeActors(suite.Actors)
	if err := checkFixtures(suite.Fixtures, file); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for i, raw := range rawCases {
		m, _ := raw.(map[string]any)
		c, err := parseCase(m, fmt.Sprintf("%s: cases[%d]", file, i))
		if err != nil {
			return nil, err
		}
		name := c.Header().Name
		if seen[name] {
			return nil, errs.Config(file, "duplicate case name %q", name)
		}
		seen[name] = true
		suite.Cases = append(suite.Cases, c)
	}
	return suite, nil
}

func parseCase(raw map[string]any, where string) (Case, error) {
	kind, _ := raw["kind"].(string)
	if err := validate(raw, "#"+kind, where); err != nil {
		return nil, err
	}

	var c Case
	switch CaseKind(kind) {
	case KindSQLExpect:
		c = &SQLExpect{}
	case KindPermissionsMatrix:
		c = &PermissionsMatrix{}
	case KindSchemaMetadata:
		c = &SchemaMetadata{}
	case KindSchemaBehavior:
		c = &SchemaBehavior{}
	case KindAPIRequest:
		c = &APIRequest{}
	default:
		return nil, errs.Config(where, "unknown case kind %q", kind)
	}
	if err := decodeStrict(raw, c); err != nil {
		return nil, errs.WrapConfig(where, "decode case", err)
	}
	if err := checkCase(c, where); err != nil {
		return nil, err
	}
	return c, nil
}

// checkCase enforces the rules the schema cannot express.
func checkCase(c Case, where string) error {
	where = where + " (" + c.Header().Name + ")"
	var assertions []JSONAssertion
	switch c := c.(type) {
	case *SQLExpect:
		assertions = c.Assertions
	case *PermissionsMatrix:
		if len(c.Rules) == 0 {
			return errs.Config(where, "permissions_matrix needs at least one rule")
		}
		for i, r := range c.Rules {
			if r.Action == ActionQuery && strings.TrimSpace(r.SQL) == "" {
				return errs.Config(where, "rules[%d]: action query requires sql", i)
			}
			if r.Action != ActionQuery && r.SQL != "" {
				return errs.Config(where, "rules[%d]: sql is only used by action query", i)
			}
		}
	case *SchemaMetadata:
		if c.Table == "" && c.SQL == "" {
			return errs.Config(where, "schema_metadata requires table or sql")
		}
		if len(c.Fields) > 0 && c.Table == "" {
			return errs.Config(where, "fields expectations require table")
		}
		assertions = c.Assertions
	case *SchemaBehavior:
		assertions = c.Assertions
	case *APIRequest:
		c.Method = strings.ToUpper(c.Method)
		if c.Method == "" {
			c.Method = "GET"
		}
		assertions = c.BodyAssertions
		for i, h := range c.HeaderAssertions {
			if err := checkRegex(h.Regex); err != nil {
				return errs.WrapConfig(where, fmt.Sprintf("header_assertions[%d]: invalid regex", i), err)
			}
		}
	}
	for i, a := range assertions {
		if err := checkRegex(a.Regex); err != nil {
			return errs.WrapConfig(where, fmt.Sprintf("assertions[%d]: invalid regex", i), err)
		}
	}
	return nil
}

func checkRegex(pattern string) error {
	if pattern == "" {
		return nil
	}
	_, err := regexp.Compile(pattern)
	return err
}

func checkFixtures(fixtures []Fixture, where string) error {
	for i, f := range fixtures {
		hasSQL, hasFile := strings.TrimSpace(f.SQL) != "", f.File != ""
		switch {
		case hasSQL && hasFile:
			return errs.Config(where, "fixtures[%d] (%s): set sql or file, not both", i, f.Label())
		case !hasSQL && !hasFile:
			return errs.Config(where, "fixtures[%d] (%s): requires sql or file", i, f.Label())
		}
	}
	return nil
}

// checkSecrets rejects literal passwords and tokens in actor declarations.
func checkSecrets(doc map[string]any, where string) error {
	actors, _ := doc["actors"].(map[string]any)
	names := make([]string, 0, len(actors))
	for name := range actors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec, _ := actors[name].(map[string]any)
		for _, key := range []string{"password", "token"} {
			if _, ok := spec[key]; ok {
				return errs.Config(where, "actor %q: literal %s is not allowed, use %s_env", name, key, key)
			}
		}
	}
	return nil
}

// checkActorRefs makes sure every case and fixture names a declared actor.
func checkActorRefs(specs *Specs) error {
	for _, s := range specs.Suites {
		known := func(name string) bool {
			if name == "" || name == RootActor {
				return true
			}
			if _, ok := s.Actors[name]; ok {
				return true
			}
			_, ok := specs.Config.Actors[name]
			return ok
		}
		for _, f := range append(append([]Fixture(nil), specs.Config.Fixtures...), s.Fixtures...) {
			if !known(f.Actor) {
				return errs.Config(s.File, "fixture %s uses unknown actor %q", f.Label(), f.Actor)
			}
		}
		for _, c := range s.Cases {
			if h := c.Header(); !known(h.Actor) {
				return errs.Config(s.File, "case %s uses unknown actor %q", h.Name, h.Actor)
			}
		}
	}
	return nil
}

func normalizeActors(actors map[string]ActorSpec) {
	for name, a := range actors {
		if a.Kind == "namespace_database" {
			a.Kind = ActorDatabase
			actors[name] = a
		}
	}
}

func decodeDocument(data []byte, format Format, name string) (map[string]any, error) {
	doc := map[string]any{}
	var err error
	switch format {
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		return nil, errs.Config(name, "unsupported format %q", format)
	}
	if err != nil {
		return nil, errs.WrapConfig(name, "parse "+string(format), err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

func decodeStrict(input any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
		TagName:     "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

var (
	schemaOnce  sync.Once
	schemaValue cue.Value
	schemaErr   error
)

// compiledSchema compiles suite.cue once. cue.Values from one context are
// safe for concurrent reads but not for concurrent construction, so
// validation is serialized by schemaMu.
func compiledSchema() (cue.Value, error) {
	schemaOnce.Do(func() {
		ctx := cuecontext.New()
		schemaValue = ctx.CompileString(suiteSchemaSource, cue.Filename("suite.cue"))
		schemaErr = schemaValue.Err()
	})
	return schemaValue, schemaErr
}

var schemaMu sync.Mutex

// validate checks doc against the named definition and turns CUE errors
// into one ConfigError listing every problem by path.
func validate(doc map[string]any, definition, where string) error {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile suite schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return errs.Config(where, "no schema for %s", strings.TrimPrefix(definition, "#"))
	}
	v := def.Unify(schema.Context().Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return errs.Config(where, "%s", strings.Join(cueProblems(err), "; "))
	}
	return nil
}

func cueProblems(err error) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if p := e.Path(); len(p) > 0 {
			msg = strings.Join(p, ".") + ": " + msg
		}
		if !seen[msg] {
			seen[msg] = true
			out = append(out, msg)
		}
	}
	sort.Strings(out)
	return out
}
