package harness

// Config is the global test configuration (tests/config.toml or .yaml).
type Config struct {
	Defaults Defaults             `mapstructure:"defaults"`
	Actors   map[string]ActorSpec `mapstructure:"actors"`
	Fixtures []Fixture            `mapstructure:"fixtures"`
}

// Defaults are run settings that flags and the environment can override.
type Defaults struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMS int    `mapstructure:"timeout_ms"`
}

// Suite is one suite file.
type Suite struct {
	Name     string               `mapstructure:"name"`
	Tags     []string             `mapstructure:"tags"`
	Actors   map[string]ActorSpec `mapstructure:"actors"`
	Fixtures []Fixture            `mapstructure:"fixtures"`

	// Cases is decoded per kind after validation.
	Cases []Case `mapstructure:"-"`

	// File is the path relative to the suites directory, slash separated.
	File string `mapstructure:"-"`

	// Dir is the directory holding the suite file. Fixture files resolve
	// against it.
	Dir string `mapstructure:"-"`
}

// Label returns the suite name, or its file when unnamed.
func (s *Suite) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.File
}

// Fixture is SQL applied before the cases run. Exactly one of SQL and File
// is set.
type Fixture struct {
	Name  string `mapstructure:"name"`
	Actor string `mapstructure:"actor"`
	SQL   string `mapstructure:"sql"`
	File  string `mapstructure:"file"`
}

// Label returns the fixture name, or "unnamed".
func (f Fixture) Label() string {
	if f.Name != "" {
		return f.Name
	}
	return "unnamed"
}

// runsAsRoot reports whether the fixture runs before actor resolution.
func (f Fixture) runsAsRoot() bool {
	return f.Actor == "" || f.Actor == RootActor
}

// ActorKind selects how an actor authenticates.
type ActorKind string

// Actor kinds.
const (
	ActorRoot      ActorKind = "root"
	ActorNamespace ActorKind = "namespace"
	ActorDatabase  ActorKind = "database"
	ActorRecord    ActorKind = "record"
	ActorToken     ActorKind = "token"
	ActorHeaders   ActorKind = "headers"
)

// RootActor is the name of the implicit root actor and the default actor of
// every case and fixture.
const RootActor = "root"

// ActorSpec declares an actor. Plain fields may be given literally or
// through the matching *_env field; secrets only through *_env.
type ActorSpec struct {
	Kind ActorKind `mapstructure:"kind"`

	Username     string `mapstructure:"username"`
	UsernameEnv  string `mapstructure:"username_env"`
	PasswordEnv  string `mapstructure:"password_env"`
	Namespace    string `mapstructure:"namespace"`
	NamespaceEnv string `mapstructure:"namespace_env"`
	Database     string `mapstructure:"database"`
	DatabaseEnv  string `mapstructure:"database_env"`
	Access       string `mapstructure:"access"`
	AccessEnv    string `mapstructure:"access_env"`

	// Params are non-secret record access parameters. ParamsEnv names an
	// environment variable holding a JSON object merged over them.
	Params    map[string]any `mapstructure:"params"`
	ParamsEnv string         `mapstructure:"params_env"`

	TokenEnv string            `mapstructure:"token_env"`
	Headers  map[string]string `mapstructure:"headers"`
}

// CaseKind names a case type.
type CaseKind string

// Case kinds.
const (
	KindSQLExpect         CaseKind = "sql_expect"
	KindPermissionsMatrix CaseKind = "permissions_matrix"
	KindSchemaMetadata    CaseKind = "schema_metadata"
	KindSchemaBehavior    CaseKind = "schema_behavior"
	KindAPIRequest        CaseKind = "api_request"
)

// CaseKinds returns every case kind.
func CaseKinds() []CaseKind {
	return []CaseKind{KindSQLExpect, KindPermissionsMatrix, KindSchemaMetadata, KindSchemaBehavior, KindAPIRequest}
}

// Case is one test case. The concrete types are *SQLExpect,
// *PermissionsMatrix, *SchemaMetadata, *SchemaBehavior and *APIRequest.
type Case interface {
	Header() *CaseHeader
	isCase()
}

// CaseHeader holds the fields every case kind shares.
type CaseHeader struct {
	Name  string   `mapstructure:"name"`
	Kind  CaseKind `mapstructure:"kind"`
	Tags  []string `mapstructure:"tags"`
	Actor string   `mapstructure:"actor"`
}

// Header implements Case.
func (h *CaseHeader) Header() *CaseHeader { return h }

// ActorName returns the actor, defaulting to root.
func (h *CaseHeader) ActorName() string {
	if h.Actor == "" {
		return RootActor
	}
	return h.Actor
}

// SQLExpect runs one statement and checks whether it was allowed.
type SQLExpect struct {
	CaseHeader `mapstructure:",squash"`

	SQL           string          `mapstructure:"sql"`
	Allow         *bool           `mapstructure:"allow"`
	ErrorContains string          `mapstructure:"error_contains"`
	ErrorCode     string          `mapstructure:"error_code"`
	Assertions    []JSONAssertion `mapstructure:"assertions"`
}

// PermissionsMatrix checks one action per rule against a seeded record.
type PermissionsMatrix struct {
	CaseHeader `mapstructure:",squash"`

	Table    string           `mapstructure:"table"`
	RecordID string           `mapstructure:"record_id"`
	Rules    []PermissionRule `mapstructure:"rules"`
}

// DefaultRecordID is the record permissions_matrix seeds when no record_id
// is given.
const DefaultRecordID = "perm_record"

// Record returns the record id, defaulting to DefaultRecordID.
func (c *PermissionsMatrix) Record() string {
	if c.RecordID == "" {
		return DefaultRecordID
	}
	return c.RecordID
}

// PermissionAction is the operation a permission rule performs.
type PermissionAction string

// Permission actions.
const (
	ActionCreate PermissionAction = "create"
	ActionSelect PermissionAction = "select"
	ActionUpdate PermissionAction = "update"
	ActionDelete PermissionAction = "delete"
	ActionQuery  PermissionAction = "query"
)

// PermissionRule is one row of a permissions matrix.
type PermissionRule struct {
	Action        PermissionAction `mapstructure:"action"`
	Allow         *bool            `mapstructure:"allow"`
	SQL           string           `mapstructure:"sql"`
	ErrorContains string           `mapstructure:"error_contains"`
}

// SchemaMetadata inspects INFO FOR output.
type SchemaMetadata struct {
	CaseHeader `mapstructure:",squash"`

	Table      string          `mapstructure:"table"`
	SQL        string          `mapstructure:"sql"`
	Contains   []string        `mapstructure:"contains"`
	Fields     []FieldExpect   `mapstructure:"fields"`
	Assertions []JSONAssertion `mapstructure:"assertions"`
}

// FieldExpect describes a field in INFO FOR TABLE output.
type FieldExpect struct {
	Name          string `mapstructure:"name"`
	Present       *bool  `mapstructure:"present"`
	Type          string `mapstructure:"type"`
	ValueContains string `mapstructure:"value_contains"`
}

// SchemaBehavior runs a scripted sequence and checks the resulting state.
type SchemaBehavior struct {
	CaseHeader `mapstructure:",squash"`

	SetupSQL            []string        `mapstructure:"setup_sql"`
	ActionSQL           string          `mapstructure:"action_sql"`
	ExpectSuccess       *bool           `mapstructure:"expect_success"`
	ExpectErrorContains string          `mapstructure:"expect_error_contains"`
	VerifySQL           string          `mapstructure:"verify_sql"`
	Assertions          []JSONAssertion `mapstructure:"assertions"`
}

// APIRequest calls an HTTP endpoint as an actor.
type APIRequest struct {
	CaseHeader `mapstructure:",squash"`

	Method           string            `mapstructure:"method"`
	Path             string            `mapstructure:"path"`
	ExpectedStatus   int               `mapstructure:"expected_status"`
	Headers          map[string]string `mapstructure:"headers"`
	Body             any               `mapstructure:"body"`
	TimeoutMS        int               `mapstructure:"timeout_ms"`
	BodyAssertions   []JSONAssertion   `mapstructure:"body_assertions"`
	HeaderAssertions []HeaderAssertion `mapstructure:"header_assertions"`
}

func (*SQLExpect) isCase()         {}
func (*PermissionsMatrix) isCase() {}
func (*SchemaMetadata) isCase()    {}
func (*SchemaBehavior) isCase()    {}
func (*APIRequest) isCase()        {}

// JSONAssertion checks the value at a dot path. Numeric segments index
// arrays. Every predicate that is set must hold.
type JSONAssertion struct {
	Path     string `mapstructure:"path"`
	Exists   *bool  `mapstructure:"exists"`
	Equals   any    `mapstructure:"equals"`
	Contains string `mapstructure:"contains"`
	Regex    string `mapstructure:"regex"`
}

// HeaderAssertion checks a response header. Names are case-insensitive.
type HeaderAssertion struct {
	Name     string `mapstructure:"name"`
	Exists   *bool  `mapstructure:"exists"`
	Equals   string `mapstructure:"equals"`
	Contains string `mapstructure:"contains"`
	Regex    string `mapstructure:"regex"`
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
