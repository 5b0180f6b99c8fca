package surreal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubQuerier struct {
	results []Result
	err     error
	sql     string
}

func (s *stubQuerier) Query(_ context.Context, sql string, _ map[string]any) ([]Result, error) {
	s.sql = sql
	return s.results, s.err
}

func TestExec_ReturnsLastValue(t *testing.T) {
	q := &stubQuerier{results: []Result{
		{Status: StatusOK, Value: "first"},
		{Status: StatusOK, Value: []any{map[string]any{"id": "order:1"}}},
	}}

	v, err := Exec(context.Background(), q, "CREATE order; SELECT * FROM order;", nil)
	require.NoError(t, err)
	rows := Rows(v)
	require.Len(t, rows, 1)
	assert.Equal(t, "order:1", rows[0]["id"])
}

func TestExec_StatementErrorIsQueryError(t *testing.T) {
	q := &stubQuerier{results: []Result{
		{Status: StatusOK},
		{Status: "ERR", Error: "You don't have permission to create this record"},
	}}

	_, err := Exec(context.Background(), q, "USE NS x; CREATE order;", nil)
	var qe *QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 1, qe.Index)
	assert.Contains(t, qe.Error(), "permission")
}

func TestExec_TransportError(t *testing.T) {
	q := &stubQuerier{err: errors.New("connection reset")}
	_, err := Exec(context.Background(), q, "INFO FOR DB;", nil)
	require.EqualError(t, err, "connection reset")
}

func TestRows_Shapes(t *testing.T) {
	assert.Nil(t, Rows(nil))
	assert.Len(t, Rows(map[string]any{"a": 1}), 1)
	assert.Len(t, Rows([]any{map[string]any{"a": 1}, "skip", map[string]any{"b": 2}}), 2)
}

func TestIdent_QuotesWhenNeeded(t *testing.T) {
	assert.Equal(t, "order", Ident("order"))
	assert.Equal(t, "ns_sk_test_1", Ident("ns_sk_test_1"))
	assert.Equal(t, "`my-ns`", Ident("my-ns"))
	assert.Equal(t, "`1abc`", Ident("1abc"))
}

func TestRPCEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/rpc"},
		{"https://db.example.com/", "wss://db.example.com/rpc"},
		{"ws://localhost:8000/rpc", "ws://localhost:8000/rpc"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := RPCEndpoint(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := RPCEndpoint("ftp://nope")
	require.Error(t, err)
}

func TestNormalize_CBORMaps(t *testing.T) {
	in := map[any]any{"fields": map[any]any{"total": "DEFINE FIELD total ON order TYPE number"}}
	out := normalize(in)

	m, ok := out.(map[string]any)
	require.True(t, ok)
	fields, ok := m["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields["total"], "DEFINE FIELD")
}
