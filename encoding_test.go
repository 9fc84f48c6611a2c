package replmap

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// TestEnvelopeEncoding checks that envelopes survive encoding, including negative and extreme values.
func TestEnvelopeEncoding(t *testing.T) {
	envelopes := []Envelope{
		NewAddEnvelope("a", 1),
		NewAddEnvelope("negative", -42),
		NewAddEnvelope("max", math.MaxInt),
		NewAddEnvelope("min", math.MinInt),
		NewAddEnvelope("ünïcode", 0),
		NewRemoveEnvelope("a"),
	}

	for _, envelope := range envelopes {
		data, err := encodeEnvelope(envelope)
		require.NoError(t, err)

		decoded, err := decodeEnvelope(data)
		require.NoError(t, err)
		require.Equal(t, envelope, decoded)
	}
}

// TestEnvelopeUnknownOp checks that envelopes with an unknown op are neither encoded nor decoded.
func TestEnvelopeUnknownOp(t *testing.T) {
	_, err := encodeEnvelope(Envelope{Op: 9, Key: "a"})
	require.ErrorIs(t, err, ErrUnknownOp)

	data := protowire.AppendTag(nil, envelopeOpField, protowire.VarintType)
	data = protowire.AppendVarint(data, 9)
	_, err = decodeEnvelope(data)
	require.ErrorIs(t, err, ErrUnknownOp)

	// An envelope without an op is rejected as well.
	_, err = decodeEnvelope(nil)
	require.ErrorIs(t, err, ErrUnknownOp)
}

// TestEnvelopeUnknownFields checks that fields added by newer versions are skipped.
func TestEnvelopeUnknownFields(t *testing.T) {
	data, err := encodeEnvelope(NewAddEnvelope("a", 1))
	require.NoError(t, err)

	data = protowire.AppendTag(data, 15, protowire.BytesType)
	data = protowire.AppendString(data, "future")

	decoded, err := decodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, NewAddEnvelope("a", 1), decoded)
}

// TestEnvelopeTruncated checks that an envelope cut in the middle of a field is rejected.
func TestEnvelopeTruncated(t *testing.T) {
	data, err := encodeEnvelope(NewAddEnvelope("key", 1))
	require.NoError(t, err)

	// Inside the op, inside the key, and right after the tag of the value.
	for _, n := range []int{1, 4, len(data) - 1} {
		_, err := decodeEnvelope(data[:n])
		require.Error(t, err, "decoded %d of %d bytes", n, len(data))
	}
}

// TestSnapshotDeterministic checks that equal entries always produce equal snapshots.
func TestSnapshotDeterministic(t *testing.T) {
	entries := map[string]int{"c": 3, "a": 1, "b": 2, "d": -4}

	first, err := encodeSnapshot(entries)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		data, err := encodeSnapshot(entries)
		require.NoError(t, err)
		require.Equal(t, first, data)
	}

	decoded, err := decodeSnapshot(first)
	require.NoError(t, err)
	require.Equal(t, entries, decoded)
}

// TestViewInfoEncoding checks that a view reported by a member survives encoding.
func TestViewInfoEncoding(t *testing.T) {
	info := viewInfo{
		view: View{
			ID:      ViewID{Creator: "127.0.0.1:7600", Seq: 12},
			Members: []Address{"127.0.0.1:7600", "127.0.0.1:7601"},
		},
		established: true,
	}

	decoded, err := decodeViewInfo(encodeViewInfo(info))
	require.NoError(t, err)
	require.Equal(t, info, decoded)

	_, err = decodeViewInfo([]byte{0x0a, 0x10})
	require.Error(t, err)
}
