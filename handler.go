package replmap

import (
	"sync"

	"github.com/jmsadair/replmap/internal/telemetry"
)

// handler is the Receiver a Map registers with its group. It turns
// deliveries into store updates, serves state to members that request it,
// and hands merge views to the resolver.
type handler struct {
	store    *store
	resolver *mergeResolver
	metrics  *telemetry.Metrics
	logger   Logger

	// The most recently installed view.
	view View
	mu   sync.Mutex
}

func (h *handler) Deliver(data []byte) {
	envelope, err := decodeEnvelope(data)
	if err != nil {
		h.metrics.DecodeFailures.Inc()
		h.logger.Warnf("dropping message that could not be decoded: %s", err.Error())
		return
	}

	size := h.store.apply(envelope)
	h.metrics.Deliveries.WithLabelValues(envelope.Op.String()).Inc()
	h.metrics.StoreEntries.Set(float64(size))
	h.logger.Debugf("applied %s: entries = %d", envelope, size)
}

func (h *handler) ViewAccepted(view View) {
	h.mu.Lock()
	h.view = view
	h.mu.Unlock()

	h.metrics.ViewMembers.Set(float64(len(view.Members)))
	h.logger.Infof("accepted view %s", view)

	if view.IsMerge() {
		h.resolver.submit(view)
	}
}

func (h *handler) State() ([]byte, error) {
	data, err := h.store.snapshot()
	if err != nil {
		h.metrics.StateTransfers.WithLabelValues("provider", "error").Inc()
		h.logger.Errorf("could not snapshot store: %s", err.Error())
		return nil, err
	}
	h.metrics.StateTransfers.WithLabelValues("provider", "ok").Inc()
	h.logger.Debugf("provided state: bytes = %d", len(data))
	return data, nil
}

func (h *handler) currentView() View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view
}
