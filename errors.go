package replmap

import "github.com/jmsadair/replmap/internal/errors"

var (
	// ErrInvalidArgument is returned when an operation is given an argument
	// it cannot accept, such as an empty key.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned by operations on a map or group that has been closed.
	ErrClosed = errors.New("closed")

	// ErrNoPeers is returned by Group.RequestState when no other member exists
	// that could provide the state.
	ErrNoPeers = errors.New("no peers to provide state")

	// ErrUnknownOp is returned when an envelope carries an operation this
	// version does not understand.
	ErrUnknownOp = errors.New("unknown envelope operation")
)
