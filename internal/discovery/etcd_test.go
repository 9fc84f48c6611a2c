package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseMembers checks that member addresses are extracted from the keys of the group only.
func TestParseMembers(t *testing.T) {
	prefix := groupPrefix("/replmap", "inventory")
	require.Equal(t, "/replmap/inventory/", prefix)

	keys := []string{
		memberKey(prefix, "127.0.0.1:7601"),
		memberKey(prefix, "127.0.0.1:7600"),
		memberKey(prefix, "127.0.0.1:7600"),
		"/replmap/other/127.0.0.1:7602",
		"/replmap/inventory/",
		"/replmap/inventory/nested/127.0.0.1:7603",
	}

	require.Equal(t, []string{"127.0.0.1:7600", "127.0.0.1:7601"}, parseMembers(prefix, keys))
	require.Empty(t, parseMembers(prefix, nil))
}

// TestOptions checks that invalid registry options are rejected.
func TestOptions(t *testing.T) {
	o := &options{}

	require.Error(t, WithPrefix("")(o))
	require.Error(t, WithPrefix("relative")(o))
	require.NoError(t, WithPrefix("/services/")(o))
	require.Equal(t, "/services", o.prefix)

	require.Error(t, WithTTL(0)(o))
	require.NoError(t, WithTTL(30)(o))
	require.Equal(t, int64(30), o.ttl)
}

// TestNewInvalid checks that a registry requires a client and a valid group name.
func TestNewInvalid(t *testing.T) {
	_, err := New(nil, "inventory")
	require.Error(t, err)

	_, err = NewClient(nil)
	require.Error(t, err)
}
