package replmap

import (
	"context"
	"sync/atomic"

	"github.com/jmsadair/replmap/internal/errors"
	"github.com/jmsadair/replmap/internal/telemetry"
)

// Status describes the local member of a replicated map.
type Status struct {
	// The address of the local member.
	Address Address

	// The network address of the local member, for diagnostics.
	TransportAddress string

	// The most recently installed view.
	View View

	// The number of entries in the local store.
	Entries int

	// The state of the partition-merge resolver.
	Resolver ResolverState
}

// Map is a string to int map replicated across the members of a group.
//
// Mutations are broadcast to the group and applied by every member, the
// caller included, when the group delivers them. Reads are local and may
// lag behind mutations the caller has just issued. Map is safe for
// concurrent use.
type Map struct {
	group    Group
	name     string
	store    *store
	handler  *handler
	resolver *mergeResolver
	metrics  *telemetry.Metrics
	logger   Logger
	closed   atomic.Bool
}

// New joins the named group and returns a map replicated across its
// members. If the group already has members, New blocks until the state of
// one of them has been transferred; a member that is alone starts empty.
func New(group Group, name string, opts ...Option) (*Map, error) {
	if group == nil {
		return nil, errors.WrapError(ErrInvalidArgument, "group must not be nil")
	}
	if name == "" {
		return nil, errors.WrapError(ErrInvalidArgument, "group name must not be empty")
	}

	options, err := buildOptions(opts)
	if err != nil {
		return nil, errors.WrapError(err, "could not create map")
	}

	metrics, err := telemetry.New(options.registerer)
	if err != nil {
		return nil, errors.WrapError(err, "could not register metrics")
	}

	store := newStore()
	resolver := newMergeResolver(group, store, options, metrics)
	m := &Map{
		group:    group,
		name:     name,
		store:    store,
		resolver: resolver,
		metrics:  metrics,
		logger:   options.logger,
		handler: &handler{
			store:    store,
			resolver: resolver,
			metrics:  metrics,
			logger:   options.logger,
		},
	}

	resolver.start()
	if err := group.Connect(name, m.handler); err != nil {
		resolver.stop()
		return nil, errors.WrapError(err, "could not connect to group %q", name)
	}

	if err := m.fetchInitialState(); err != nil {
		resolver.stop()
		if closeErr := group.Close(); closeErr != nil {
			m.logger.Warnf("could not close group %q: %s", name, closeErr.Error())
		}
		return nil, err
	}

	m.logger.Infof("joined group %q as %s", name, group.LocalAddress())

	return m, nil
}

// fetchInitialState loads the store from another member. There is no
// deadline: a member that is alone, or whose other members are not running
// yet, gets ErrNoPeers right away and starts with an empty store.
func (m *Map) fetchInitialState() error {
	data, err := m.group.RequestState(context.Background())
	if errors.Is(err, ErrNoPeers) {
		m.metrics.StateTransfers.WithLabelValues("startup", "none").Inc()
		m.logger.Infof("no other members in group %q, starting empty", m.name)
		return nil
	}
	if err != nil {
		m.metrics.StateTransfers.WithLabelValues("startup", "error").Inc()
		return errors.WrapError(err, "could not fetch initial state")
	}

	size, err := m.store.restore(data)
	if err != nil {
		m.metrics.StateTransfers.WithLabelValues("startup", "error").Inc()
		return errors.WrapError(err, "could not install initial state")
	}

	m.metrics.StateTransfers.WithLabelValues("startup", "ok").Inc()
	m.metrics.StoreEntries.Set(float64(size))
	m.logger.Infof("installed initial state: entries = %d", size)

	return nil
}

// Put broadcasts the assignment of value to key. The local store is not
// modified until the group delivers the assignment back to this member, so
// a Get issued right after Put may not observe it.
//
// A failure to send is logged and not reported to the caller. Members the
// group did reach still apply the assignment.
func (m *Map) Put(key string, value int) error {
	if err := m.checkKey(key); err != nil {
		return err
	}
	m.broadcast(NewAddEnvelope(key, value))
	return nil
}

// Remove broadcasts the removal of key and returns the value cached locally
// before the removal, if any. The return value is not a confirmation that
// the key was removed: the removal takes effect when the group delivers it.
//
// A failure to send is logged and not reported to the caller. Members the
// group did reach still apply the removal.
func (m *Map) Remove(key string) (int, bool, error) {
	if err := m.checkKey(key); err != nil {
		return 0, false, err
	}
	value, ok := m.store.get(key)
	m.broadcast(NewRemoveEnvelope(key))
	return value, ok, nil
}

// Get returns the value of key in the local store.
func (m *Map) Get(key string) (int, bool) {
	return m.store.get(key)
}

// ContainsKey reports whether key is present in the local store.
func (m *Map) ContainsKey(key string) bool {
	_, ok := m.store.get(key)
	return ok
}

// Entries returns a copy of the local store.
func (m *Map) Entries() map[string]int {
	return m.store.copy()
}

// Len returns the number of entries in the local store.
func (m *Map) Len() int {
	return m.store.len()
}

// Address returns the address of the local member.
func (m *Map) Address() Address {
	return m.group.LocalAddress()
}

// TransportAddress returns the network address of the local member.
func (m *Map) TransportAddress() string {
	return m.group.TransportAddress()
}

// View returns the most recently installed view.
func (m *Map) View() View {
	return m.handler.currentView()
}

// Status returns the status of the local member.
func (m *Map) Status() Status {
	return Status{
		Address:          m.group.LocalAddress(),
		TransportAddress: m.group.TransportAddress(),
		View:             m.handler.currentView(),
		Entries:          m.store.len(),
		Resolver:         m.resolver.currentState(),
	}
}

// Close stops merge resolution and leaves the group. Calling Close more than
// once has no effect.
func (m *Map) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.resolver.stop()
	if err := m.group.Close(); err != nil {
		return errors.WrapError(err, "could not close group %q", m.name)
	}
	m.logger.Infof("left group %q", m.name)
	return nil
}

func (m *Map) checkKey(key string) error {
	if key == "" {
		return errors.WrapError(ErrInvalidArgument, "key must not be empty")
	}
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (m *Map) broadcast(envelope Envelope) {
	data, err := encodeEnvelope(envelope)
	if err != nil {
		m.logger.Errorf("could not encode %s: %s", envelope, err.Error())
		return
	}
	if err := m.group.Send(data); err != nil {
		m.metrics.SendFailures.Inc()
		m.logger.Warnf("could not broadcast %s to every member: %s", envelope, err.Error())
		return
	}
	m.metrics.Broadcasts.WithLabelValues(envelope.Op.String()).Inc()
}
