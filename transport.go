package replmap

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jmsadair/replmap/internal/errors"
)

const (
	shutdownGracePeriod   = 300 * time.Millisecond
	defaultRequestTimeout = 5 * time.Second
)

// connectionManager handles creating new connections and closing existing ones.
// This implementation is concurrent safe.
type connectionManager struct {
	// The connections to the members of the group. Maps address to connection.
	connections map[Address]*grpc.ClientConn

	// The credentials each connection will use.
	creds credentials.TransportCredentials

	mu sync.Mutex
}

func newConnectionManager(creds credentials.TransportCredentials) *connectionManager {
	return &connectionManager{
		connections: make(map[Address]*grpc.ClientConn),
		creds:       creds,
	}
}

// getConnection will retrieve a connection for the provided address. If one does
// not exist, it will be created.
func (c *connectionManager) getConnection(address Address) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.connections[address]; ok {
		return conn, nil
	}

	conn, err := grpc.Dial(string(address), grpc.WithTransportCredentials(c.creds))
	if err != nil {
		return nil, fmt.Errorf("could not establish connection: %w", err)
	}
	c.connections[address] = conn

	return conn, nil
}

// closeConnection closes the connection to address, if any. The next call
// to getConnection dials again instead of waiting out the backoff of a
// connection that failed.
func (c *connectionManager) closeConnection(address Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.connections[address]; ok {
		conn.Close()
		delete(c.connections, address)
	}
}

// closeAll closes all open connections.
func (c *connectionManager) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for address, conn := range c.connections {
		conn.Close()
		delete(c.connections, address)
	}
}

type grpcOptions struct {
	// The deadline of every Deliver and CurrentView call.
	requestTimeout time.Duration

	// The credentials used to dial other members.
	creds credentials.TransportCredentials
}

// GRPCOption configures a GRPCGroup.
type GRPCOption func(options *grpcOptions) error

// WithRequestTimeout sets the deadline of every message delivery and
// view lookup. State transfers are bounded by the caller's context.
func WithRequestTimeout(timeout time.Duration) GRPCOption {
	return func(options *grpcOptions) error {
		if timeout <= 0 {
			return fmt.Errorf("request timeout must be positive")
		}
		options.requestTimeout = timeout
		return nil
	}
}

// WithTransportCredentials sets the credentials used to dial other members.
// By default connections are insecure.
func WithTransportCredentials(creds credentials.TransportCredentials) GRPCOption {
	return func(options *grpcOptions) error {
		if creds == nil {
			return fmt.Errorf("transport credentials must not be nil")
		}
		options.creds = creds
		return nil
	}
}

// GRPCGroup is a Group whose members communicate over gRPC.
//
// GRPCGroup does not detect failures. Its membership is an input provided
// through SetMembers, typically by a discovery service. A message is
// multicast by delivering it to every member of the current view, the
// sender included, and a multicast completes before the next one starts,
// which keeps messages from one sender in order.
//
// When SetMembers reports members that were part of another established
// view, the partitions are considered healed and a merge view is installed.
// Its subgroups are ordered by their smallest member address.
//
// The server starts with the group, before Connect, so that members that
// list it can reach it right away. Until Connect it answers every call with
// codes.Unavailable. Members that do not answer are treated as not running:
// state is requested from the next member, and a newcomer whose view could
// not be fetched is asked again by the next call to SetMembers.
type GRPCGroup struct {
	// The address of this member.
	address Address

	// The listener the server accepts connections on.
	listener net.Listener

	// The RPC server, serving from creation until Close.
	server *grpc.Server

	// Manages connections to other members of the group.
	connManager *connectionManager

	options grpcOptions

	// The name of the group, set on connect.
	name string

	// Notified of deliveries and views once connected.
	receiver Receiver

	// The currently installed view.
	view View

	// Indicates whether this member was ever part of a view with other members.
	established bool

	// Members of the current view whose view could not be fetched yet.
	unresolved []Address

	running bool
	closed  bool
	mu      sync.RWMutex

	// Serializes membership changes.
	viewMu sync.Mutex

	// Serializes receiver callbacks.
	deliverMu sync.Mutex
}

// NewGRPCGroup creates a member that listens on address. The listener is
// opened immediately, so an address with port 0 resolves to the port
// actually chosen and that becomes the member's address.
func NewGRPCGroup(address string, opts ...GRPCOption) (*GRPCGroup, error) {
	options := grpcOptions{requestTimeout: defaultRequestTimeout, creds: insecure.NewCredentials()}
	for _, opt := range opts {
		if err := opt(&options); err != nil {
			return nil, errors.WrapError(err, "could not create group member")
		}
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.WrapError(err, "could not listen on %s", address)
	}

	self := Address(listener.Addr().String())
	g := &GRPCGroup{
		address:     self,
		listener:    listener,
		connManager: newConnectionManager(options.creds),
		options:     options,
		view:        View{ID: ViewID{Creator: self}, Members: []Address{self}},
	}
	g.server = grpc.NewServer(grpc.UnaryInterceptor(groupNameInterceptor(g.groupName)))
	g.server.RegisterService(&groupServiceDesc, &groupService{group: g})
	go g.server.Serve(listener)

	return g, nil
}

func (g *GRPCGroup) Connect(name string, receiver Receiver) error {
	if name == "" {
		return errors.WrapError(ErrInvalidArgument, "group name must not be empty")
	}
	if receiver == nil {
		return errors.WrapError(ErrInvalidArgument, "receiver must not be nil")
	}

	// Hold the view lock so no membership change slips in between accepting
	// calls and handing the first view to the receiver.
	g.viewMu.Lock()
	defer g.viewMu.Unlock()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	if g.running {
		g.mu.Unlock()
		return errors.WrapError(ErrInvalidArgument, "%s is already connected", g.address)
	}
	g.name = name
	g.receiver = receiver
	g.running = true
	if len(g.view.Members) > 1 {
		g.established = true
	}
	view := g.view
	g.mu.Unlock()

	g.deliverMu.Lock()
	receiver.ViewAccepted(view)
	g.deliverMu.Unlock()

	return nil
}

func (g *GRPCGroup) Send(data []byte) error {
	g.mu.RLock()
	if !g.running {
		g.mu.RUnlock()
		return errors.WrapError(ErrClosed, "could not send message")
	}
	members := g.view.Members
	g.mu.RUnlock()

	var eg errgroup.Group
	for _, member := range members {
		member := member
		eg.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), g.options.requestTimeout)
			defer cancel()
			if err := g.invoke(ctx, member, deliverMethod, wrapperspb.Bytes(data), &emptypb.Empty{}); err != nil {
				return errors.WrapError(err, "could not deliver message to %s", member)
			}
			return nil
		})
	}

	return eg.Wait()
}

func (g *GRPCGroup) RequestState(ctx context.Context) ([]byte, error) {
	g.mu.RLock()
	if !g.running {
		g.mu.RUnlock()
		return nil, errors.WrapError(ErrClosed, "could not request state")
	}
	providers := stateProviders(g.view, g.address)
	g.mu.RUnlock()

	for _, member := range providers {
		response := &wrapperspb.BytesValue{}
		err := g.invoke(ctx, member, stateMethod, &emptypb.Empty{}, response)
		if err == nil {
			return response.GetValue(), nil
		}
		if status.Code(err) == codes.Unavailable && ctx.Err() == nil {
			continue
		}
		return nil, errors.WrapError(err, "could not request state from %s", member)
	}

	return nil, ErrNoPeers
}

// stateProviders returns the members state is requested from, in order of
// preference. After a merge the members of the primary subgroup come first,
// since they hold the data every other member must adopt.
func stateProviders(view View, self Address) []Address {
	var providers []Address
	if primary, ok := view.Primary(); ok {
		for _, member := range primary.Members {
			if member != self && view.Contains(member) {
				providers = append(providers, member)
			}
		}
	}
	for _, member := range view.Members {
		if member != self && !slices.Contains(providers, member) {
			providers = append(providers, member)
		}
	}
	return providers
}

func (g *GRPCGroup) LocalAddress() Address {
	return g.address
}

func (g *GRPCGroup) TransportAddress() string {
	return "grpc://" + string(g.address)
}

func (g *GRPCGroup) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.running = false
	g.mu.Unlock()

	defer g.connManager.closeAll()

	stopped := make(chan interface{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-time.After(shutdownGracePeriod):
		g.server.Stop()
	case <-stopped:
		g.server.Stop()
	}

	return nil
}

// View returns the currently installed view.
func (g *GRPCGroup) View() View {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.view
}

// SetMembers installs a view made of the provided members. This member is
// always part of its own view. Members that were not part of the previous
// view are asked for their current view; if any of them belongs to an
// established view other than ours, the new view is a merge view.
//
// A newcomer that does not answer is still part of the new view, but it
// stays unresolved: it is asked again by the next call, even one with the
// same members, and the merge is detected then. The returned error lists
// the members that did not answer. SetMembers is meant to be called
// again periodically, not only when the membership changes.
//
// Before the group is connected members are recorded without probing, and
// the member is considered established once it connects to a view with
// other members.
func (g *GRPCGroup) SetMembers(ctx context.Context, members []Address) error {
	g.viewMu.Lock()
	defer g.viewMu.Unlock()

	members = normalizeMembers(g.address, members)

	g.mu.RLock()
	previous := g.view
	established := g.established
	running := g.running
	receiver := g.receiver
	unresolved := g.unresolved
	g.mu.RUnlock()

	changed := !slices.Equal(previous.Members, members)
	if !changed && len(unresolved) == 0 {
		return nil
	}

	next := View{ID: ViewID{Creator: members[0], Seq: previous.ID.Seq + 1}, Members: members}
	var pending []Address
	var lookupErr error
	if running {
		next.Subgroups, pending, lookupErr = g.subgroups(ctx, previous, unresolved, established, members)
		if len(next.Subgroups) < 2 {
			next.Subgroups = nil
		}
		for _, subgroup := range next.Subgroups {
			if subgroup.ID.Seq >= next.ID.Seq {
				next.ID.Seq = subgroup.ID.Seq + 1
			}
		}
	}

	// Resolving the members of an unchanged view only installs a new view
	// when it reveals a merge.
	install := changed || next.IsMerge()

	g.mu.Lock()
	if install {
		g.view = next
	}
	g.unresolved = pending
	if running && len(members) > 1 && len(pending) == 0 {
		g.established = true
	}
	g.mu.Unlock()

	if running && install {
		g.deliverMu.Lock()
		receiver.ViewAccepted(next)
		g.deliverMu.Unlock()
	}

	if len(pending) > 0 {
		return errors.WrapError(lookupErr, "could not fetch the view of %v, they will be asked again", pending)
	}
	return nil
}

// subgroups returns the distinct established views the members of the next
// view come from, ordered by their smallest member. A subgroup only keeps
// the members that are part of the next view. Newcomers, which include the
// members left unresolved by the previous view, are asked for their view;
// those that do not answer are returned as pending along with the last error.
func (g *GRPCGroup) subgroups(
	ctx context.Context,
	previous View,
	unresolved []Address,
	established bool,
	members []Address,
) ([]View, []Address, error) {
	var subgroups []View
	seen := make(map[string]bool)
	add := func(view View, keep []Address) {
		var kept []Address
		for _, member := range view.Members {
			if slices.Contains(keep, member) {
				kept = append(kept, member)
			}
		}
		if len(kept) == 0 {
			return
		}
		slices.Sort(kept)
		key := strings.Join(addressesToStrings(kept), ",")
		if seen[key] {
			return
		}
		seen[key] = true
		subgroups = append(subgroups, View{ID: view.ID, Members: kept})
	}

	var newcomers []Address
	for _, member := range members {
		if !previous.Contains(member) || slices.Contains(unresolved, member) {
			newcomers = append(newcomers, member)
		}
	}

	if established {
		var resolved []Address
		for _, member := range members {
			if !slices.Contains(newcomers, member) {
				resolved = append(resolved, member)
			}
		}
		add(previous, resolved)
	}

	var pending []Address
	var lastErr error
	for _, member := range newcomers {
		info, err := g.lookupView(ctx, member)
		if err != nil {
			pending = append(pending, member)
			lastErr = err
			continue
		}
		if info.established {
			add(info.view, newcomers)
		}
	}

	sort.SliceStable(subgroups, func(i, j int) bool {
		return subgroups[i].Members[0] < subgroups[j].Members[0]
	})

	return subgroups, pending, lastErr
}

func (g *GRPCGroup) lookupView(ctx context.Context, member Address) (viewInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, g.options.requestTimeout)
	defer cancel()

	response := &wrapperspb.BytesValue{}
	if err := g.invoke(ctx, member, currentViewMethod, &emptypb.Empty{}, response); err != nil {
		return viewInfo{}, err
	}
	return decodeViewInfo(response.GetValue())
}

func (g *GRPCGroup) invoke(ctx context.Context, member Address, method string, request, response interface{}) error {
	conn, err := g.connManager.getConnection(member)
	if err != nil {
		return err
	}

	g.mu.RLock()
	name := g.name
	g.mu.RUnlock()

	ctx = metadata.AppendToOutgoingContext(ctx, groupMetadataKey, name)
	err = conn.Invoke(ctx, method, request, response)
	if status.Code(err) == codes.Unavailable {
		g.connManager.closeConnection(member)
	}
	return err
}

// groupName returns the name of the group, empty until connected.
func (g *GRPCGroup) groupName() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.running {
		return ""
	}
	return g.name
}

func (g *GRPCGroup) deliver(data []byte) error {
	g.mu.RLock()
	running := g.running
	receiver := g.receiver
	g.mu.RUnlock()
	if !running {
		return ErrClosed
	}

	g.deliverMu.Lock()
	defer g.deliverMu.Unlock()
	receiver.Deliver(data)

	return nil
}

func (g *GRPCGroup) state() ([]byte, error) {
	g.mu.RLock()
	running := g.running
	receiver := g.receiver
	g.mu.RUnlock()
	if !running {
		return nil, ErrClosed
	}
	return receiver.State()
}

func (g *GRPCGroup) currentViewInfo() viewInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return viewInfo{view: g.view, established: g.established}
}

// normalizeMembers sorts members, removes duplicates, and makes sure self
// is included.
func normalizeMembers(self Address, members []Address) []Address {
	normalized := make([]Address, 0, len(members)+1)
	normalized = append(normalized, self)
	for _, member := range members {
		if member != "" && !slices.Contains(normalized, member) {
			normalized = append(normalized, member)
		}
	}
	slices.Sort(normalized)
	return normalized
}

func addressesToStrings(addresses []Address) []string {
	s := make([]string, len(addresses))
	for i, address := range addresses {
		s[i] = string(address)
	}
	return s
}
