package replmap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmsadair/replmap/internal/telemetry"
)

// ResolverState is the state of the partition-merge resolver.
type ResolverState uint32

const (
	// Stable indicates that no merge is being resolved.
	Stable ResolverState = iota

	// Resolving indicates that a merge view is being resolved.
	Resolving
)

// String converts a ResolverState to a string.
func (s ResolverState) String() string {
	switch s {
	case Stable:
		return "stable"
	case Resolving:
		return "resolving"
	default:
		panic("invalid resolver state")
	}
}

// mergeResolver reconciles the local store after a partition heals. Merge
// views are queued by the view callback and resolved one at a time by a
// single worker, so the callback never blocks and churn cannot spawn an
// unbounded number of workers.
//
// Resolution is "first subgroup wins": members of the first subgroup keep
// their data, every other member replaces its store with state fetched
// from the group. Writes made outside the first subgroup while partitioned
// are lost.
type mergeResolver struct {
	group   Group
	store   *store
	timeout time.Duration
	metrics *telemetry.Metrics
	logger  Logger

	// Merge views waiting to be resolved.
	queue chan View

	// The current ResolverState.
	state atomic.Uint32

	// Serializes submissions so that making room in a full queue is atomic.
	submitMu sync.Mutex

	// Cancelled when the resolver stops; bounds any in-flight state request.
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup
}

func newMergeResolver(group Group, store *store, options options, metrics *telemetry.Metrics) *mergeResolver {
	ctx, cancel := context.WithCancel(context.Background())
	return &mergeResolver{
		group:   group,
		store:   store,
		timeout: options.mergeStateTimeout,
		metrics: metrics,
		logger:  options.logger,
		queue:   make(chan View, options.mergeQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (r *mergeResolver) start() {
	r.wg.Add(1)
	go r.run()
}

// stop terminates the worker, abandoning any in-flight state request, and
// waits for it to exit.
func (r *mergeResolver) stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *mergeResolver) currentState() ResolverState {
	return ResolverState(r.state.Load())
}

// submit queues a merge view without blocking. If the queue is full the
// oldest waiting view is discarded to make room.
func (r *mergeResolver) submit(view View) {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	for {
		select {
		case r.queue <- view:
			return
		default:
		}

		select {
		case dropped := <-r.queue:
			r.metrics.MergesDropped.Inc()
			r.logger.Warnf("merge queue is full, discarding merge view %s", dropped.ID)
		default:
		}
	}
}

func (r *mergeResolver) run() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case view := <-r.queue:
			r.resolve(view)
		}
	}
}

func (r *mergeResolver) resolve(view View) {
	r.state.Store(uint32(Resolving))
	defer r.state.Store(uint32(Stable))

	primary, ok := view.Primary()
	if !ok {
		return
	}

	local := r.group.LocalAddress()
	if primary.Contains(local) {
		r.metrics.MergeResolutions.WithLabelValues("primary").Inc()
		r.logger.Infof("member of the primary partition %s, keeping state", primary)
		return
	}

	r.logger.Infof("not a member of the primary partition %s, re-acquiring state", primary)

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	data, err := r.group.RequestState(ctx)
	if err != nil {
		r.metrics.StateTransfers.WithLabelValues("merge", "error").Inc()
		r.metrics.MergeResolutions.WithLabelValues("failed").Inc()
		r.logger.Errorf("could not re-acquire state after merge, keeping stale data: %s", err.Error())
		return
	}

	size, err := r.store.restore(data)
	if err != nil {
		r.metrics.StateTransfers.WithLabelValues("merge", "error").Inc()
		r.metrics.MergeResolutions.WithLabelValues("failed").Inc()
		r.logger.Errorf("could not install state after merge, keeping stale data: %s", err.Error())
		return
	}

	r.metrics.StateTransfers.WithLabelValues("merge", "ok").Inc()
	r.metrics.MergeResolutions.WithLabelValues("resynced").Inc()
	r.metrics.StoreEntries.Set(float64(size))
	r.logger.Infof("installed state after merge: entries = %d", size)
}
