package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(name, def string) *Object {
	return &Object{Kind: KindTable, Name: name, Definition: def, Header: "DEFINE TABLE " + name}
}

func field(tbl, name, def string) *Object {
	return &Object{
		Kind:       KindField,
		Scope:      tbl,
		Name:       name,
		Definition: def,
		Header:     "DEFINE FIELD " + name + " ON " + tbl,
		Parent:     TableID(tbl),
	}
}

func TestSnapshot_HashIndependentOfInsertionOrder(t *testing.T) {
	a := New()
	require.NoError(t, a.Add(table("order", "DEFINE TABLE order SCHEMAFULL")))
	require.NoError(t, a.Add(field("order", "total", "DEFINE FIELD total ON order TYPE number")))

	b := New()
	require.NoError(t, b.Add(field("order", "total", "DEFINE FIELD total ON order TYPE number")))
	require.NoError(t, b.Add(table("order", "DEFINE TABLE order SCHEMAFULL")))

	assert.Equal(t, a.Hash(), b.Hash())
}

func TestSnapshot_HashChangesWithDefinition(t *testing.T) {
	a := New()
	require.NoError(t, a.Add(table("order", "DEFINE TABLE order SCHEMAFULL")))
	b := New()
	require.NoError(t, b.Add(table("order", "DEFINE TABLE order SCHEMALESS")))

	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestSnapshot_AddRejectsDuplicates(t *testing.T) {
	s := New()
	first := table("order", "DEFINE TABLE order")
	first.Source = "a.surql"
	second := table("order", "DEFINE TABLE order")
	second.Source = "b.surql"

	require.NoError(t, s.Add(first))
	err := s.Add(second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table:order")
	assert.Contains(t, err.Error(), "b.surql")
}

func TestSnapshot_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".surrealkit", "catalog_snapshot.json")
	s := New()
	require.NoError(t, s.Add(table("order", "DEFINE TABLE order SCHEMAFULL")))
	require.NoError(t, s.Add(field("order", "total", "DEFINE FIELD total ON order TYPE number")))

	require.NoError(t, Save(path, s))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, s.Hash(), loaded.Hash())
	assert.Equal(t, []string{"field:order.total", "table:order"}, loaded.IDs())
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, New().Hash(), s.Hash())
}

func TestObject_StatementAddsOverwrite(t *testing.T) {
	o := field("order", "total", "DEFINE FIELD total ON order TYPE number")
	assert.Equal(t, "DEFINE FIELD OVERWRITE total ON order TYPE number", o.Statement())

	shell, ok := o.ShellStatement()
	require.True(t, ok)
	assert.Equal(t, "DEFINE FIELD OVERWRITE total ON order", shell)
}

func TestObject_DepsExcludeSelf(t *testing.T) {
	o := table("edge", "DEFINE TABLE edge TYPE RELATION IN edge OUT person")
	o.Refs = []string{"table:edge", "table:person"}

	assert.Equal(t, []string{"table:person"}, o.Deps())
}

func TestFileSet_SortedAndComparable(t *testing.T) {
	a := NewFileSet(map[string][]byte{
		"database/schema/z.surql": []byte("DEFINE TABLE z;"),
		"database/schema/a.surql": []byte("DEFINE TABLE a;"),
	})
	require.Len(t, a.Files, 2)
	assert.Equal(t, "database/schema/a.surql", a.Files[0].Path)

	b := NewFileSet(map[string][]byte{
		"database/schema/a.surql": []byte("DEFINE TABLE a;"),
		"database/schema/z.surql": []byte("DEFINE TABLE z; -- comment"),
	})
	assert.False(t, a.Equal(b))

	path := filepath.Join(t.TempDir(), "schema_snapshot.json")
	require.NoError(t, SaveFileSet(path, a))
	loaded, err := LoadFileSet(path)
	require.NoError(t, err)
	assert.True(t, a.Equal(loaded))
}
