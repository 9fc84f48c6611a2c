package replmap

import "fmt"

// Op is the kind of mutation carried by an envelope.
type Op uint8

const (
	// Add inserts or overwrites a key.
	Add Op = iota + 1

	// Remove deletes a key if it is present.
	Remove
)

// String converts an Op to a string.
func (o Op) String() string {
	switch o {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		panic("invalid op")
	}
}

func (o Op) valid() bool {
	return o == Add || o == Remove
}

// Envelope is a mutation broadcast to the group. An envelope is never
// modified once built.
type Envelope struct {
	// The kind of mutation.
	Op Op

	// The key being mutated.
	Key string

	// The value to store. Only meaningful for Add.
	Value int
}

// NewAddEnvelope creates an envelope that sets key to value.
func NewAddEnvelope(key string, value int) Envelope {
	return Envelope{Op: Add, Key: key, Value: value}
}

// NewRemoveEnvelope creates an envelope that removes key.
func NewRemoveEnvelope(key string) Envelope {
	return Envelope{Op: Remove, Key: key}
}

func (e Envelope) String() string {
	if e.Op == Remove {
		return fmt.Sprintf("%s(%q)", e.Op, e.Key)
	}
	return fmt.Sprintf("%s(%q, %d)", e.Op, e.Key, e.Value)
}
