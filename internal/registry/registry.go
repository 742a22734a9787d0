// Package registry is the authoritative, concurrency-safe store of
// ServiceEntry rows: it validates state transitions, fans out lifecycle
// events to subscribers, and optionally persists itself to disk.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/logging"
	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// Registry is safe for concurrent use. All mutating operations serialize on
// a single exclusive lock (never held across I/O); the subscriber table has
// its own lock so event delivery bookkeeping never blocks entry mutation
// scans.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*model.ServiceEntry

	subMu sync.Mutex
	subs  map[string]*subscription

	persistPath string
	log         *slog.Logger
}

// New creates an empty registry. If persistPath is non-empty, every
// successful mutation is atomically persisted to it.
func New(persistPath string) *Registry {
	return &Registry{
		entries:     map[string]*model.ServiceEntry{},
		subs:        map[string]*subscription{},
		persistPath: persistPath,
		log:         logging.With("registry"),
	}
}

func (r *Registry) deliveriesFor(kind EventKind, service string, payload interface{}) []Delivery {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	evt := Event{Kind: kind, Service: service, Timestamp: time.Now(), Payload: payload}
	var out []Delivery
	// Stable iteration order so per-subscriber FIFO ordering 
	// is reproducible in tests.
	ids := make([]string, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sub := r.subs[id]
		if sub.wants(kind) {
			out = append(out, Delivery{SubscriberID: id, Event: evt})
		}
	}
	return out
}

// Register adds a new entry. An empty State defaults to
// model.StateRegistered; any other State is stored as given, and the
// transition table is enforced from there on by UpdateState.
func (r *Registry) Register(entry model.ServiceEntry) ([]Delivery, error) {
	r.mu.Lock()
	if _, exists := r.entries[entry.Name]; exists {
		r.mu.Unlock()
		return nil, &ServiceExistsError{Name: entry.Name}
	}
	now := time.Now()
	if entry.RegisteredAt.IsZero() {
		entry.RegisteredAt = now
	}
	entry.LastStateChange = now
	if entry.State == "" {
		entry.State = model.StateRegistered
	}
	stored := entry.Clone()
	r.entries[entry.Name] = &stored
	r.mu.Unlock()

	deliveries := r.deliveriesFor(EventServiceRegistered, entry.Name, nil)
	r.persistBestEffort()
	return deliveries, nil
}

// Get returns a copy of the named entry.
func (r *Registry) Get(name string) (model.ServiceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return model.ServiceEntry{}, &ServiceNotFoundError{Name: name}
	}
	return e.Clone(), nil
}

// List returns a snapshot of every entry, ordered by name for determinism.
func (r *Registry) List() []model.ServiceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ServiceEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdateState transitions a service's state, validating the move against
// the table in model.CanTransition. It returns the prior state and the
// fan-out deliveries on success.
func (r *Registry) UpdateState(name string, newState model.ServiceState) (model.ServiceState, []Delivery, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return "", nil, &ServiceNotFoundError{Name: name}
	}
	old := e.State
	if !model.CanTransition(old, newState) {
		r.mu.Unlock()
		return old, nil, &model.InvalidStateTransitionError{From: old, To: newState}
	}
	e.State = newState
	e.LastStateChange = time.Now()
	r.mu.Unlock()

	deliveries := r.deliveriesFor(EventServiceStateChanged, name, StateChangedPayload{Old: old, New: newState})
	r.persistBestEffort()
	return old, deliveries, nil
}

// UpdateEndpoints replaces a service's endpoint list, appended atomically
// with the implicit state observation that produced it (e.g. a Docker
// container's post-launch port inspection).
func (r *Registry) UpdateEndpoints(name string, endpoints []model.Endpoint) ([]Delivery, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return nil, &ServiceNotFoundError{Name: name}
	}
	e.Endpoints = append([]model.Endpoint(nil), endpoints...)
	r.mu.Unlock()

	deliveries := r.deliveriesFor(EventEndpointUpdated, name, EndpointUpdatedPayload{Endpoints: endpoints})
	r.persistBestEffort()
	return deliveries, nil
}

// Deregister removes a service row entirely; this is the only way a row
// leaves the registry.
func (r *Registry) Deregister(name string) (model.ServiceEntry, []Delivery, error) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return model.ServiceEntry{}, nil, &ServiceNotFoundError{Name: name}
	}
	removed := e.Clone()
	delete(r.entries, name)
	r.mu.Unlock()

	deliveries := r.deliveriesFor(EventServiceDeregistered, name, nil)
	r.persistBestEffort()
	return removed, deliveries, nil
}

// Subscribe registers a subscriber for a set of event kinds; an empty set
// means all kinds.
func (r *Registry) Subscribe(subscriberID string, kinds ...EventKind) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	set := map[EventKind]bool{}
	for _, k := range kinds {
		set[k] = true
	}
	r.subs[subscriberID] = &subscription{id: subscriberID, events: set}
}

// Unsubscribe narrows a subscriber's kind filter; removing all kinds is not
// the same as RemoveSubscriber (it leaves an empty-everything subscription,
// matching nothing until Subscribe is called again).
func (r *Registry) Unsubscribe(subscriberID string, kinds ...EventKind) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	sub, ok := r.subs[subscriberID]
	if !ok {
		return
	}
	for _, k := range kinds {
		delete(sub.events, k)
	}
}

// RemoveSubscriber drops a subscriber entirely.
func (r *Registry) RemoveSubscriber(subscriberID string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	delete(r.subs, subscriberID)
}

func (r *Registry) persistBestEffort() {
	if r.persistPath == "" {
		return
	}
	if err := r.Persist(); err != nil {
		r.log.Error("failed to persist registry", "error", err)
	}
}

// Persist writes the current entry set to persistPath atomically: write to
// a temp file, fsync, rename over the target. I/O errors surface to the
// caller; in-memory state remains authoritative regardless.
func (r *Registry) Persist() error {
	if r.persistPath == "" {
		return fmt.Errorf("registry: no persist path configured")
	}
	r.mu.RLock()
	snapshot := make(map[string]model.ServiceEntry, len(r.entries))
	for name, e := range r.entries {
		snapshot[name] = e.Clone()
	}
	r.mu.RUnlock()
	return persistSnapshot(r.persistPath, snapshot)
}

// Load replaces the in-memory entry set with the contents of path. A
// malformed or missing file is not fatal: the registry starts empty and the
// problem is logged, the load is best-effort rule.
func (r *Registry) Load(path string) {
	snapshot, err := loadSnapshot(path)
	if err != nil {
		r.log.Warn("starting with empty registry: failed to load persisted state", "path", path, "error", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[string]*model.ServiceEntry{}
	for name, e := range snapshot {
		entry := e
		r.entries[name] = &entry
	}
	r.persistPath = path
}
