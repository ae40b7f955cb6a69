package source

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/sensorbridge/internal/adapter/metrics"
	"github.com/pscheid92/sensorbridge/internal/domain"
)

type entry struct {
	spec         domain.SourceSpec
	placeholder  json.RawMessage
	payload      json.RawMessage
	live         bool
	updatedAt    time.Time
	received     uint64
	decodeErrors uint64
}

// Registry is the shared latest-value cache, one entry per configured source.
// Entries are fixed at construction; only their contents change.
type Registry struct {
	mu      sync.RWMutex
	order   []domain.SourceID
	entries map[domain.SourceID]*entry

	updates chan struct{}
	clock   clockwork.Clock
	metrics *metrics.SourceMetrics
}

// NewRegistry creates a registry for specs in the given order. Empty or
// duplicate ids are rejected.
func NewRegistry(specs []domain.SourceSpec, clock clockwork.Clock, m *metrics.SourceMetrics) (*Registry, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	r := &Registry{
		order:   make([]domain.SourceID, 0, len(specs)),
		entries: make(map[domain.SourceID]*entry, len(specs)),
		updates: make(chan struct{}, 1),
		clock:   clock,
		metrics: m,
	}

	for _, spec := range specs {
		if spec.ID == "" {
			return nil, fmt.Errorf("source with endpoint %q has no id", spec.Endpoint)
		}
		if _, exists := r.entries[spec.ID]; exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateSource, spec.ID)
		}
		r.order = append(r.order, spec.ID)
		r.entries[spec.ID] = &entry{spec: spec, placeholder: spec.PlaceholderOrDefault()}
	}
	return r, nil
}

// Updates fires at least once after any number of Update calls. Signals coalesce:
// a reader that falls behind sees one pending signal, not a backlog.
func (r *Registry) Updates() <-chan struct{} {
	return r.updates
}

// Update replaces the cached payload for id and wakes the merge loop. A payload
// that is not valid UTF-8 is refused and the cached value kept.
func (r *Registry) Update(id domain.SourceID, payload json.RawMessage) error {
	if !utf8.Valid(payload) {
		return fmt.Errorf("%w: %s: payload is not valid utf-8", domain.ErrDecode, id)
	}
	now := r.clock.Now()

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrUnknownSource, id)
	}
	e.payload = payload
	e.live = true
	e.updatedAt = now
	e.received++
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.MessagesReceived.WithLabelValues(string(id)).Inc()
		r.metrics.LastUpdate.WithLabelValues(string(id)).Set(float64(now.UnixNano()) / 1e9)
	}

	select {
	case r.updates <- struct{}{}:
	default:
	}
	return nil
}

// RecordDecodeError counts a dropped message for id. The cached payload is untouched.
func (r *Registry) RecordDecodeError(id domain.SourceID) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok {
		e.decodeErrors++
	}
	r.mu.Unlock()

	if ok && r.metrics != nil {
		r.metrics.DecodeErrors.WithLabelValues(string(id)).Inc()
	}
}

// Snapshot assembles one entry per source in configuration order.
func (r *Registry) Snapshot(seq uint64, now time.Time) domain.MergedSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]domain.SnapshotEntry, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		payload := e.placeholder
		if e.live {
			payload = e.payload
		}
		entries = append(entries, domain.SnapshotEntry{Source: id, Payload: payload, Live: e.live})
	}
	return domain.MergedSnapshot{Seq: seq, AssembledAt: now, Entries: entries}
}

// Status returns the current view of one source.
func (r *Registry) Status(id domain.SourceID) (domain.SourceStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return domain.SourceStatus{}, fmt.Errorf("%w: %s", domain.ErrUnknownSource, id)
	}
	return e.status(), nil
}

// Statuses returns the current view of every source in configuration order.
func (r *Registry) Statuses() []domain.SourceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.SourceStatus, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].status())
	}
	return out
}

func (e *entry) status() domain.SourceStatus {
	payload := e.placeholder
	if e.live {
		payload = e.payload
	}
	return domain.SourceStatus{
		ID:           e.spec.ID,
		Endpoint:     e.spec.Endpoint,
		Live:         e.live,
		UpdatedAt:    e.updatedAt,
		Received:     e.received,
		DecodeErrors: e.decodeErrors,
		Payload:      payload,
	}
}
