// Package discovery keeps track of the members of a group in etcd.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"golang.org/x/exp/slices"

	"github.com/jmsadair/replmap/internal/errors"
)

const (
	defaultPrefix      = "/replmap"
	defaultTTL         = 10
	defaultDialTimeout = 5 * time.Second
)

// NewClient creates an etcd client for the provided endpoints.
func NewClient(endpoints []string) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one etcd endpoint is required")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: defaultDialTimeout,
	})
	if err != nil {
		return nil, errors.WrapError(err, "could not create etcd client")
	}
	return client, nil
}

type options struct {
	// The root of every key written by the registry.
	prefix string

	// The time to live of the lease registrations are attached to, in seconds.
	ttl int64
}

// Option configures a Registry.
type Option func(options *options) error

// WithPrefix sets the root under which groups are registered.
func WithPrefix(prefix string) Option {
	return func(options *options) error {
		prefix = strings.TrimRight(prefix, "/")
		if prefix == "" || !strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("prefix must be an absolute key: %q", prefix)
		}
		options.prefix = prefix
		return nil
	}
}

// WithTTL sets the time to live, in seconds, of the lease a registration is
// attached to. A member that stops refreshing its lease disappears from the
// group once the lease expires.
func WithTTL(ttl int64) Option {
	return func(options *options) error {
		if ttl <= 0 {
			return fmt.Errorf("ttl must be positive: %d", ttl)
		}
		options.ttl = ttl
		return nil
	}
}

// Registry registers the members of one group in etcd. Every member is
// stored under <prefix>/<group>/<address>, attached to a lease that is kept
// alive for as long as the member is registered.
type Registry struct {
	client *clientv3.Client

	// The key prefix shared by every member of the group, ending with a slash.
	groupPrefix string

	ttl int64

	// The lease of the local registration, zero when not registered.
	lease  clientv3.LeaseID
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a registry for the named group.
func New(client *clientv3.Client, group string, opts ...Option) (*Registry, error) {
	if client == nil {
		return nil, errors.New("etcd client must not be nil")
	}
	if group == "" || strings.Contains(group, "/") {
		return nil, fmt.Errorf("invalid group name: %q", group)
	}

	o := options{prefix: defaultPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errors.WrapError(err, "could not create registry")
		}
	}

	return &Registry{client: client, groupPrefix: groupPrefix(o.prefix, group), ttl: o.ttl}, nil
}

// Register adds address to the group. The registration is refreshed in the
// background until Deregister is called.
func (r *Registry) Register(ctx context.Context, address string) error {
	if address == "" {
		return errors.New("address must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lease != 0 {
		return errors.New("already registered")
	}

	lease, err := r.client.Grant(ctx, r.ttl)
	if err != nil {
		return errors.WrapError(err, "could not grant lease")
	}

	key := memberKey(r.groupPrefix, address)
	if _, err := r.client.Put(ctx, key, address, clientv3.WithLease(lease.ID)); err != nil {
		return errors.WrapError(err, "could not register %s", key)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())
	responses, err := r.client.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		cancel()
		return errors.WrapError(err, "could not keep lease %d alive", lease.ID)
	}
	go func() {
		for range responses {
		}
	}()

	r.lease = lease.ID
	r.cancel = cancel

	return nil
}

// Deregister removes the local member from the group by revoking its lease.
func (r *Registry) Deregister(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lease == 0 {
		return nil
	}

	r.cancel()
	lease := r.lease
	r.lease = 0
	r.cancel = nil

	if _, err := r.client.Revoke(ctx, lease); err != nil {
		return errors.WrapError(err, "could not revoke lease %d", lease)
	}
	return nil
}

// Members returns the sorted addresses of the registered members.
func (r *Registry) Members(ctx context.Context) ([]string, error) {
	members, _, err := r.members(ctx)
	return members, err
}

func (r *Registry) members(ctx context.Context) ([]string, int64, error) {
	response, err := r.client.Get(ctx, r.groupPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, errors.WrapError(err, "could not list members")
	}

	keys := make([]string, 0, len(response.Kvs))
	for _, kv := range response.Kvs {
		keys = append(keys, string(kv.Key))
	}

	return parseMembers(r.groupPrefix, keys), response.Header.Revision, nil
}

// Watch calls fn with the current members, then again after every change to
// the group, until ctx is done. Watch blocks and returns the reason it stopped.
func (r *Registry) Watch(ctx context.Context, fn func(members []string)) error {
	members, revision, err := r.members(ctx)
	if err != nil {
		return err
	}
	fn(members)

	watch := r.client.Watch(ctx, r.groupPrefix, clientv3.WithPrefix(), clientv3.WithRev(revision+1))
	for response := range watch {
		if err := response.Err(); err != nil {
			return errors.WrapError(err, "could not watch members")
		}
		members, _, err := r.members(ctx)
		if err != nil {
			return err
		}
		fn(members)
	}

	return ctx.Err()
}

func groupPrefix(prefix, group string) string {
	return prefix + "/" + group + "/"
}

func memberKey(groupPrefix, address string) string {
	return groupPrefix + address
}

// parseMembers extracts the sorted, distinct member addresses from keys.
// Keys outside the group are ignored.
func parseMembers(groupPrefix string, keys []string) []string {
	members := make([]string, 0, len(keys))
	for _, key := range keys {
		address, ok := strings.CutPrefix(key, groupPrefix)
		if !ok || address == "" || strings.Contains(address, "/") {
			continue
		}
		members = append(members, address)
	}
	slices.Sort(members)
	return slices.Compact(members)
}
