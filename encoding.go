package replmap

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jmsadair/replmap/internal/errors"
)

// Field numbers of the envelope message.
const (
	envelopeOpField    protowire.Number = 1
	envelopeKeyField   protowire.Number = 2
	envelopeValueField protowire.Number = 3
)

// Field numbers of the snapshot message and its entries.
const (
	snapshotEntryField protowire.Number = 1
	entryKeyField      protowire.Number = 1
	entryValueField    protowire.Number = 2
)

// Field numbers of the view message exchanged by the gRPC group.
const (
	viewCreatorField     protowire.Number = 1
	viewSeqField         protowire.Number = 2
	viewMemberField      protowire.Number = 3
	viewEstablishedField protowire.Number = 4
)

// encodeEnvelope encodes an envelope using the protobuf wire format.
func encodeEnvelope(envelope Envelope) ([]byte, error) {
	if !envelope.Op.valid() {
		return nil, errors.WrapError(ErrUnknownOp, "could not encode envelope with op %d", envelope.Op)
	}
	buf := protowire.AppendTag(nil, envelopeOpField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(envelope.Op))
	buf = protowire.AppendTag(buf, envelopeKeyField, protowire.BytesType)
	buf = protowire.AppendString(buf, envelope.Key)
	if envelope.Op == Add {
		buf = protowire.AppendTag(buf, envelopeValueField, protowire.VarintType)
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(int64(envelope.Value)))
	}
	return buf, nil
}

// decodeEnvelope decodes an envelope produced by encodeEnvelope. Unknown
// fields are skipped, unknown ops are rejected.
func decodeEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, errors.WrapError(protowire.ParseError(n), "could not decode envelope tag")
		}
		data = data[n:]

		switch {
		case num == envelopeOpField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Envelope{}, errors.WrapError(protowire.ParseError(n), "could not decode envelope op")
			}
			envelope.Op = Op(v)
			data = data[n:]
		case num == envelopeKeyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return Envelope{}, errors.WrapError(protowire.ParseError(n), "could not decode envelope key")
			}
			envelope.Key = v
			data = data[n:]
		case num == envelopeValueField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return Envelope{}, errors.WrapError(protowire.ParseError(n), "could not decode envelope value")
			}
			envelope.Value = int(protowire.DecodeZigZag(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Envelope{}, errors.WrapError(protowire.ParseError(n), "could not skip envelope field %d", num)
			}
			data = data[n:]
		}
	}

	if !envelope.Op.valid() {
		return Envelope{}, errors.WrapError(ErrUnknownOp, "could not decode envelope with op %d", envelope.Op)
	}

	return envelope, nil
}

// encodeSnapshot encodes the entries of a store. Entries are written in key
// order so that equal stores always produce equal snapshots.
func encodeSnapshot(entries map[string]int) ([]byte, error) {
	keys := maps.Keys(entries)
	slices.Sort(keys)

	var buf, entry []byte
	for _, key := range keys {
		entry = protowire.AppendTag(entry[:0], entryKeyField, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, entryValueField, protowire.VarintType)
		entry = protowire.AppendVarint(entry, protowire.EncodeZigZag(int64(entries[key])))

		buf = protowire.AppendTag(buf, snapshotEntryField, protowire.BytesType)
		buf = protowire.AppendBytes(buf, entry)
	}

	return buf, nil
}

// decodeSnapshot decodes a snapshot produced by encodeSnapshot.
func decodeSnapshot(data []byte) (map[string]int, error) {
	entries := make(map[string]int)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.WrapError(protowire.ParseError(n), "could not decode snapshot tag")
		}
		data = data[n:]

		if num != snapshotEntryField || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, errors.WrapError(protowire.ParseError(n), "could not skip snapshot field %d", num)
			}
			data = data[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, errors.WrapError(protowire.ParseError(n), "could not decode snapshot entry")
		}
		data = data[n:]

		key, value, err := decodeSnapshotEntry(raw)
		if err != nil {
			return nil, err
		}
		entries[key] = value
	}

	return entries, nil
}

func decodeSnapshotEntry(data []byte) (string, int, error) {
	var key string
	var value int
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return "", 0, errors.WrapError(protowire.ParseError(n), "could not decode snapshot entry tag")
		}
		data = data[n:]

		switch {
		case num == entryKeyField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return "", 0, errors.WrapError(protowire.ParseError(n), "could not decode snapshot entry key")
			}
			key = v
			data = data[n:]
		case num == entryValueField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return "", 0, errors.WrapError(protowire.ParseError(n), "could not decode snapshot entry value")
			}
			value = int(protowire.DecodeZigZag(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return "", 0, errors.WrapError(protowire.ParseError(n), "could not skip snapshot entry field %d", num)
			}
			data = data[n:]
		}
	}
	return key, value, nil
}

// viewInfo is what a member of a gRPC group reports about itself when asked for its view.
type viewInfo struct {
	// The view the member currently has installed.
	view View

	// Indicates whether the member has ever been part of a view with other
	// members. A member that was never established is a fresh joiner.
	established bool
}

func encodeViewInfo(info viewInfo) []byte {
	buf := protowire.AppendTag(nil, viewCreatorField, protowire.BytesType)
	buf = protowire.AppendString(buf, string(info.view.ID.Creator))
	buf = protowire.AppendTag(buf, viewSeqField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, info.view.ID.Seq)
	for _, member := range info.view.Members {
		buf = protowire.AppendTag(buf, viewMemberField, protowire.BytesType)
		buf = protowire.AppendString(buf, string(member))
	}
	buf = protowire.AppendTag(buf, viewEstablishedField, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeBool(info.established))
	return buf
}

func decodeViewInfo(data []byte) (viewInfo, error) {
	var info viewInfo
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return viewInfo{}, errors.WrapError(protowire.ParseError(n), "could not decode view tag")
		}
		data = data[n:]

		switch {
		case num == viewCreatorField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return viewInfo{}, errors.WrapError(protowire.ParseError(n), "could not decode view creator")
			}
			info.view.ID.Creator = Address(v)
			data = data[n:]
		case num == viewSeqField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return viewInfo{}, errors.WrapError(protowire.ParseError(n), "could not decode view sequence")
			}
			info.view.ID.Seq = v
			data = data[n:]
		case num == viewMemberField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return viewInfo{}, errors.WrapError(protowire.ParseError(n), "could not decode view member")
			}
			info.view.Members = append(info.view.Members, Address(v))
			data = data[n:]
		case num == viewEstablishedField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return viewInfo{}, errors.WrapError(protowire.ParseError(n), "could not decode view flag")
			}
			info.established = protowire.DecodeBool(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return viewInfo{}, errors.WrapError(protowire.ParseError(n), "could not skip view field %d", num)
			}
			data = data[n:]
		}
	}
	return info, nil
}
