package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MessageCarriesContext(t *testing.T) {
	err := &Error{
		Code:     CodeExecution,
		Message:  "statement failed",
		Object:   "table:order",
		Expected: "success",
		Actual:   "permission denied",
	}

	msg := err.Error()
	assert.Contains(t, msg, "EXECUTION_ERROR")
	assert.Contains(t, msg, "table:order")
	assert.Contains(t, msg, "expected success, got permission denied")
}

func TestIsHelpers_MatchWrappedErrors(t *testing.T) {
	base := Safety("sync", "destructive change blocked", nil)
	wrapped := fmt.Errorf("sync: %w", base)

	assert.True(t, IsSafety(wrapped))
	assert.False(t, IsDrift(wrapped))
	assert.Equal(t, CodeSafety, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestExecution_DeadlineBecomesTimeout(t *testing.T) {
	err := Execution("case:slow", "query", fmt.Errorf("rpc: %w", context.DeadlineExceeded))

	assert.True(t, IsTimeout(err))
	assert.True(t, IsExecution(err), "timeouts are handled as execution errors")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDrift_KeepsDiff(t *testing.T) {
	err := Drift("commit", "schema drift", "--- a\n+++ b\n")

	require.NotNil(t, err.Details)
	assert.Equal(t, []string{"diff"}, err.DetailKeys())
	assert.True(t, IsDrift(err))
}
