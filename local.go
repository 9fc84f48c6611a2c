package replmap

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/jmsadair/replmap/internal/errors"
)

// LocalNetwork is an in-process group-communication substrate. Members are
// created with NewGroup and connected through the network; the network can
// be split into partitions and merged again, which makes it suitable for
// tests and simulations of replicated maps.
//
// Each member has a FIFO inbox drained by its own goroutine. Messages and
// views share the inbox, so a member sees views in order with messages, and
// messages from one sender are delivered in the order they were sent.
type LocalNetwork struct {
	// The name of the group members connect to. Set by the first Connect.
	name string

	// Connected members, by address.
	groups map[Address]*localGroup

	// The connected components of the network. Members of a component can
	// communicate with each other and with no one else.
	components []*component

	// The sequence number of the last view installed.
	seq uint64

	// Delay applied to every state transfer.
	stateLatency time.Duration

	mu sync.Mutex
}

// component is a set of members that can communicate, along with the view
// they currently share.
type component struct {
	members []Address
	view    View
}

// LocalOption configures a LocalNetwork.
type LocalOption func(network *LocalNetwork)

// WithStateLatency delays every state transfer on the network by latency.
func WithStateLatency(latency time.Duration) LocalOption {
	return func(network *LocalNetwork) {
		network.stateLatency = latency
	}
}

// NewLocalNetwork creates an empty in-process network.
func NewLocalNetwork(opts ...LocalOption) *LocalNetwork {
	network := &LocalNetwork{groups: make(map[Address]*localGroup)}
	for _, opt := range opts {
		opt(network)
	}
	return network
}

// NewGroup creates a member of the network with the provided address. The
// member does not take part in the network until it is connected.
func (n *LocalNetwork) NewGroup(address Address) Group {
	return &localGroup{network: n, address: address, inbox: newInbox()}
}

// Members returns the addresses of all connected members.
func (n *LocalNetwork) Members() []Address {
	n.mu.Lock()
	defer n.mu.Unlock()

	var members []Address
	for _, c := range n.components {
		members = append(members, c.members...)
	}
	return members
}

// Partition splits the network into the provided components. Every connected
// member must appear in exactly one component. Each component installs a new
// view containing only its own members.
func (n *LocalNetwork) Partition(components ...[]Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	seen := make(map[Address]bool, len(n.groups))
	for _, members := range components {
		if len(members) == 0 {
			return errors.WrapError(ErrInvalidArgument, "partition must not be empty")
		}
		for _, member := range members {
			if _, ok := n.groups[member]; !ok {
				return errors.WrapError(ErrInvalidArgument, "%s is not connected", member)
			}
			if seen[member] {
				return errors.WrapError(ErrInvalidArgument, "%s appears in more than one partition", member)
			}
			seen[member] = true
		}
	}
	if len(seen) != len(n.groups) {
		return errors.WrapError(ErrInvalidArgument, "every connected member must be assigned a partition")
	}

	n.components = n.components[:0]
	for _, members := range components {
		c := &component{members: slices.Clone(members)}
		n.components = append(n.components, c)
		n.installView(c, nil)
	}

	return nil
}

// Merge heals every partition. All members install a merge view whose
// subgroups are the views of the previous components, in component order.
// Merge reports whether there was anything to merge.
func (n *LocalNetwork) Merge() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.components) < 2 {
		return false
	}

	merged := &component{}
	subgroups := make([]View, 0, len(n.components))
	for _, c := range n.components {
		merged.members = append(merged.members, c.members...)
		subgroups = append(subgroups, c.view)
	}
	n.components = []*component{merged}
	n.installView(merged, subgroups)

	return true
}

// installView creates the next view for a component and enqueues it to
// every member of the component. The network lock must be held.
func (n *LocalNetwork) installView(c *component, subgroups []View) {
	n.seq++
	c.view = View{
		ID:        ViewID{Creator: c.members[0], Seq: n.seq},
		Members:   slices.Clone(c.members),
		Subgroups: subgroups,
	}
	for _, member := range c.members {
		view := c.view
		n.groups[member].inbox.push(event{view: &view})
	}
}

// componentOf returns the component of a member. The network lock must be held.
func (n *LocalNetwork) componentOf(address Address) *component {
	for _, c := range n.components {
		if slices.Contains(c.members, address) {
			return c
		}
	}
	return nil
}

func (n *LocalNetwork) join(g *localGroup, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.name == "" {
		n.name = name
	}
	if n.name != name {
		return errors.WrapError(ErrInvalidArgument, "network serves group %q, not %q", n.name, name)
	}
	if _, ok := n.groups[g.address]; ok {
		return errors.WrapError(ErrInvalidArgument, "%s is already connected", g.address)
	}

	n.groups[g.address] = g
	if len(n.components) == 0 {
		n.components = append(n.components, &component{})
	}
	c := n.components[0]
	c.members = append(c.members, g.address)
	n.installView(c, nil)

	return nil
}

func (n *LocalNetwork) leave(g *localGroup) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := n.componentOf(g.address)
	delete(n.groups, g.address)
	if c == nil {
		return
	}

	c.members = slices.Delete(c.members, slices.Index(c.members, g.address), slices.Index(c.members, g.address)+1)
	if len(c.members) > 0 {
		n.installView(c, nil)
		return
	}
	n.components = slices.Delete(n.components, slices.Index(n.components, c), slices.Index(n.components, c)+1)
}

func (n *LocalNetwork) multicast(from Address, data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := n.componentOf(from)
	if c == nil {
		return ErrClosed
	}
	for _, member := range c.members {
		n.groups[member].inbox.push(event{data: slices.Clone(data)})
	}
	return nil
}

// provider returns the member that serves state to address: the first other
// member of its component.
func (n *LocalNetwork) provider(address Address) (*localGroup, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	c := n.componentOf(address)
	if c == nil {
		return nil, ErrClosed
	}
	for _, member := range c.members {
		if member != address {
			return n.groups[member], nil
		}
	}
	return nil, ErrNoPeers
}

// localGroup is a member of a LocalNetwork.
type localGroup struct {
	network  *LocalNetwork
	address  Address
	receiver Receiver
	inbox    *inbox

	connected bool
	closed    bool
	mu        sync.Mutex
	wg        sync.WaitGroup
}

func (g *localGroup) Connect(name string, receiver Receiver) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	if g.connected {
		return errors.WrapError(ErrInvalidArgument, "%s is already connected", g.address)
	}
	if receiver == nil {
		return errors.WrapError(ErrInvalidArgument, "receiver must not be nil")
	}

	g.receiver = receiver
	if err := g.network.join(g, name); err != nil {
		return err
	}
	g.connected = true

	g.wg.Add(1)
	go g.deliverLoop()

	return nil
}

func (g *localGroup) Send(data []byte) error {
	if !g.isConnected() {
		return ErrClosed
	}
	return g.network.multicast(g.address, data)
}

func (g *localGroup) RequestState(ctx context.Context) ([]byte, error) {
	if !g.isConnected() {
		return nil, ErrClosed
	}

	provider, err := g.network.provider(g.address)
	if err != nil {
		return nil, err
	}

	if latency := g.network.stateLatency; latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, errors.WrapError(ctx.Err(), "state transfer from %s did not complete", provider.address)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapError(err, "state transfer from %s did not complete", provider.address)
	}

	data, err := provider.receiver.State()
	if err != nil {
		return nil, errors.WrapError(err, "%s could not provide state", provider.address)
	}
	return data, nil
}

func (g *localGroup) LocalAddress() Address {
	return g.address
}

func (g *localGroup) TransportAddress() string {
	return "local://" + string(g.address)
}

func (g *localGroup) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	connected := g.connected
	g.connected = false
	g.mu.Unlock()

	if connected {
		g.network.leave(g)
	}
	g.inbox.close()
	g.wg.Wait()

	return nil
}

func (g *localGroup) isConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *localGroup) deliverLoop() {
	defer g.wg.Done()

	for {
		e, ok := g.inbox.pop()
		if !ok {
			return
		}
		if e.view != nil {
			g.receiver.ViewAccepted(*e.view)
		} else {
			g.receiver.Deliver(e.data)
		}
	}
}

// event is either a message or a view.
type event struct {
	data []byte
	view *View
}

// inbox is an unbounded FIFO queue of events.
type inbox struct {
	events []event
	closed bool
	mu     sync.Mutex
	cond   *sync.Cond
}

func newInbox() *inbox {
	b := &inbox{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *inbox) push(e event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.events = append(b.events, e)
	b.cond.Signal()
}

// pop blocks until an event is available. It returns false once the inbox
// is closed; pending events are discarded.
func (b *inbox) pop() (event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.events) == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.closed {
		return event{}, false
	}
	e := b.events[0]
	b.events[0] = event{}
	b.events = b.events[1:]
	return e, true
}

func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.events = nil
	b.cond.Broadcast()
}
