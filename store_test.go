package replmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestStoreApply checks that envelopes are applied to the store and that removing an absent
// key has no effect.
func TestStoreApply(t *testing.T) {
	store := newStore()

	require.Equal(t, 1, store.apply(NewAddEnvelope("a", 1)))
	require.Equal(t, 2, store.apply(NewAddEnvelope("b", 2)))
	require.Equal(t, 2, store.apply(NewAddEnvelope("a", 3)))
	require.Equal(t, 1, store.apply(NewRemoveEnvelope("b")))
	require.Equal(t, 1, store.apply(NewRemoveEnvelope("b")))
	require.Equal(t, 1, store.apply(NewRemoveEnvelope("missing")))

	value, ok := store.get("a")
	require.True(t, ok)
	require.Equal(t, 3, value)

	_, ok = store.get("b")
	require.False(t, ok)
}

// TestStoreCopy checks that the copy of a store does not change with the store.
func TestStoreCopy(t *testing.T) {
	store := newStore()
	store.apply(NewAddEnvelope("a", 1))

	entries := store.copy()
	store.apply(NewAddEnvelope("b", 2))
	entries["c"] = 3

	require.Equal(t, map[string]int{"a": 1}, entries)
	require.Equal(t, 2, store.len())
}

// TestStoreSnapshotRestore checks that restoring a snapshot replaces the contents of a store
// instead of merging them.
func TestStoreSnapshotRestore(t *testing.T) {
	source := newStore()
	source.apply(NewAddEnvelope("a", 1))
	source.apply(NewAddEnvelope("b", -2))

	snapshot, err := source.snapshot()
	require.NoError(t, err)

	target := newStore()
	target.apply(NewAddEnvelope("a", 10))
	target.apply(NewAddEnvelope("stale", 5))

	size, err := target.restore(snapshot)
	require.NoError(t, err)
	require.Equal(t, 2, size)
	require.Equal(t, map[string]int{"a": 1, "b": -2}, target.copy())

	// An empty snapshot empties the store.
	empty, err := newStore().snapshot()
	require.NoError(t, err)
	size, err = target.restore(empty)
	require.NoError(t, err)
	require.Zero(t, size)
}

// TestStoreRestoreMalformed checks that a malformed snapshot leaves the store untouched.
func TestStoreRestoreMalformed(t *testing.T) {
	store := newStore()
	store.apply(NewAddEnvelope("a", 1))

	_, err := store.restore([]byte{0x0a, 0x05, 0x0a})
	require.Error(t, err)
	require.Equal(t, map[string]int{"a": 1}, store.copy())
}
