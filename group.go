package replmap

import "context"

// Group is the group-communication substrate a Map is replicated over. It
// provides reliable multicast, membership views, and point-to-point state
// transfer. Implementations must deliver messages from a given sender in the
// order they were sent and must never invoke Deliver or ViewAccepted
// concurrently for the same member. State may be invoked at any time.
type Group interface {
	// Connect joins the named group. From this point on the receiver is
	// notified of delivered messages and view changes.
	Connect(name string, receiver Receiver) error

	// Send multicasts data to every member of the current view, including
	// the sender itself. An error may leave the message delivered to some
	// members.
	Send(data []byte) error

	// RequestState fetches the state of another member by invoking its
	// receiver's State method. It blocks until the state arrives or ctx is
	// done. ErrNoPeers is returned if this is the only member.
	RequestState(ctx context.Context) ([]byte, error)

	// LocalAddress returns the address of this member.
	LocalAddress() Address

	// TransportAddress returns a printable network address, for diagnostics.
	TransportAddress() string

	// Close leaves the group and releases its resources.
	Close() error
}

// Receiver is notified by a Group of events concerning the local member.
type Receiver interface {
	// Deliver is invoked once for every message delivered to this member,
	// including the messages it sent itself.
	Deliver(data []byte)

	// ViewAccepted is invoked whenever a new view is installed.
	ViewAccepted(view View)

	// State returns the local state so that it can be transferred to a
	// member that requested it.
	State() ([]byte, error)
}
