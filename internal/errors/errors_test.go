package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewHasNoInner(t *testing.T) {
	err := New("store closed")
	require.Equal(t, "store closed", err.Error())
	require.Nil(t, err.Unwrap())
}

// TestWrapErrorUnwraps checks that a wrapped sentinel is still matched by errors.Is
// and that the message includes the cause.
func TestWrapErrorUnwraps(t *testing.T) {
	sentinel := stderrors.New("no peers")
	err := WrapError(sentinel, "state transfer for %s failed", "node-1")

	require.ErrorIs(t, err, sentinel)
	require.Equal(t, "state transfer for node-1 failed: no peers", err.Error())

	var target *Error
	require.ErrorAs(t, err, &target)
	require.Equal(t, "state transfer for node-1 failed", target.Message)
}

func TestWrapErrorNilInner(t *testing.T) {
	err := WrapError(nil, "group %q is not connected", "g")
	require.Equal(t, `group "g" is not connected`, err.Error())
}
