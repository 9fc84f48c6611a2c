package replmap

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/jmsadair/replmap/logging"
)

const (
	// How long a cluster is given to converge.
	convergenceTimeout = 3 * time.Second

	// Time between convergence checks.
	convergenceInterval = 10 * time.Millisecond

	// Keeps test output readable.
	testLogLevel = logging.Error
)

type testCluster struct {
	// The testing instance associated with the cluster.
	t *testing.T

	// The network connecting the members of the cluster.
	network *LocalNetwork

	// The maps making up the cluster, where maps[i] is the map of the
	// member with address addresses[i].
	maps []*Map

	// The addresses of the members.
	addresses []Address
}

func newCluster(t *testing.T, network *LocalNetwork) *testCluster {
	return &testCluster{t: t, network: network}
}

// addMember joins a new member to the cluster and returns its index.
func (tc *testCluster) addMember(opts ...Option) int {
	index := len(tc.maps)
	address := Address(fmt.Sprintf("node-%d", index))

	opts = append([]Option{WithLogLevel(testLogLevel)}, opts...)
	m, err := New(tc.network.NewGroup(address), "test", opts...)
	if err != nil {
		tc.t.Fatalf("failed to join cluster: member = %d, err = %s", index, err.Error())
	}

	tc.maps = append(tc.maps, m)
	tc.addresses = append(tc.addresses, address)

	return index
}

// startCluster joins n members one after another, waiting for each to see
// the others.
func (tc *testCluster) startCluster(n int, opts ...Option) {
	for i := 0; i < n; i++ {
		tc.addMember(opts...)
	}
	tc.checkViewSize(n, tc.all()...)
}

func (tc *testCluster) stopCluster() {
	for i, m := range tc.maps {
		if err := m.Close(); err != nil {
			tc.t.Errorf("failed to leave cluster: member = %d, err = %s", i, err.Error())
		}
	}
}

func (tc *testCluster) all() []int {
	indices := make([]int, len(tc.maps))
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// partition splits the cluster, where each argument lists the indices of
// the members of one partition.
func (tc *testCluster) partition(partitions ...[]int) {
	components := make([][]Address, len(partitions))
	for i, partition := range partitions {
		for _, index := range partition {
			components[i] = append(components[i], tc.addresses[index])
		}
	}
	require.NoError(tc.t, tc.network.Partition(components...))
	for _, partition := range partitions {
		tc.checkViewSize(len(partition), partition...)
	}
}

// checkViewSize waits until every listed member has a view of size n.
func (tc *testCluster) checkViewSize(n int, indices ...int) {
	for _, index := range indices {
		m := tc.maps[index]
		require.Eventually(tc.t, func() bool {
			return len(m.View().Members) == n
		}, convergenceTimeout, convergenceInterval, "member %d never saw a view of size %d", index, n)
	}
}

// checkEntries waits until every listed member holds exactly the expected entries.
func (tc *testCluster) checkEntries(expected map[string]int, indices ...int) {
	for _, index := range indices {
		m := tc.maps[index]
		require.Eventually(tc.t, func() bool {
			return equalEntries(expected, m.Entries())
		}, convergenceTimeout, convergenceInterval, "member %d did not converge: entries = %v", index, m.Entries())
	}
}

// checkResolutions waits until the merge resolutions of a member with the
// provided outcome reach count.
func (tc *testCluster) checkResolutions(index int, outcome string, count float64) {
	counter := tc.maps[index].metrics.MergeResolutions.WithLabelValues(outcome)
	require.Eventually(tc.t, func() bool {
		return testutil.ToFloat64(counter) == count
	}, convergenceTimeout, convergenceInterval, "member %d: %s resolutions = %v", index, outcome, testutil.ToFloat64(counter))
}

func equalEntries(expected, actual map[string]int) bool {
	if len(expected) != len(actual) {
		return false
	}
	for key, value := range expected {
		if v, ok := actual[key]; !ok || v != value {
			return false
		}
	}
	return true
}

// recordingGroup is a Group that records sent messages instead of
// delivering them. Tests deliver messages and views by hand.
type recordingGroup struct {
	address  Address
	name     string
	receiver Receiver

	// The messages handed to Send.
	sent [][]byte

	// Returned by Send, if set.
	sendErr error

	// Returned by RequestState. A nil state with no error means the member
	// is alone.
	state    []byte
	stateErr error

	closed bool
	mu     sync.Mutex
}

func newRecordingGroup(address Address) *recordingGroup {
	return &recordingGroup{address: address}
}

func (g *recordingGroup) Connect(name string, receiver Receiver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.name = name
	g.receiver = receiver
	return nil
}

func (g *recordingGroup) Send(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, data)
	return nil
}

func (g *recordingGroup) RequestState(ctx context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stateErr != nil {
		return nil, g.stateErr
	}
	if g.state == nil {
		return nil, ErrNoPeers
	}
	return g.state, nil
}

func (g *recordingGroup) LocalAddress() Address {
	return g.address
}

func (g *recordingGroup) TransportAddress() string {
	return "recording://" + string(g.address)
}

func (g *recordingGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

// deliverSent delivers every recorded message to the receiver, in order.
func (g *recordingGroup) deliverSent() {
	g.mu.Lock()
	sent := g.sent
	g.sent = nil
	receiver := g.receiver
	g.mu.Unlock()

	for _, data := range sent {
		receiver.Deliver(data)
	}
}

func (g *recordingGroup) numSent() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

// recordingReceiver is a Receiver that records what it is notified of.
type recordingReceiver struct {
	deliveries [][]byte
	views      []View
	state      []byte
	mu         sync.Mutex
}

func (r *recordingReceiver) Deliver(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, data)
}

func (r *recordingReceiver) ViewAccepted(view View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, view)
}

func (r *recordingReceiver) State() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, nil
}

func (r *recordingReceiver) numDeliveries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func (r *recordingReceiver) delivered() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.deliveries...)
}

func (r *recordingReceiver) lastView() (View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return View{}, false
	}
	return r.views[len(r.views)-1], true
}
