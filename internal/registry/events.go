package registry

import (
	"time"

	"github.com/stacksupervisor/stacksupervisor/internal/model"
)

// EventKind enumerates the registry mutation kinds subscribers can filter
// on.
type EventKind string

const (
	EventServiceRegistered  EventKind = "service_registered"
	EventServiceStateChanged EventKind = "service_state_changed"
	EventEndpointUpdated    EventKind = "endpoint_updated"
	EventServiceDeregistered EventKind = "service_deregistered"
)

// Event is one registry mutation, fanned out to subscribers. The registry
// only produces these; delivering them to a transport is the caller's job
// (event fan-out).
type Event struct {
	Kind      EventKind
	Service   string
	Timestamp time.Time
	Payload   interface{}
}

// StateChangedPayload is the Event.Payload for EventServiceStateChanged.
type StateChangedPayload struct {
	Old model.ServiceState
	New model.ServiceState
}

// EndpointUpdatedPayload is the Event.Payload for EventEndpointUpdated.
type EndpointUpdatedPayload struct {
	Endpoints []model.Endpoint
}

// Delivery pairs a subscriber with the event it should receive; returning a
// slice of these is how mutations report fan-out without transporting
// anything themselves.
type Delivery struct {
	SubscriberID string
	Event        Event
}

type subscription struct {
	id     string
	events map[EventKind]bool
}

func (s subscription) wants(kind EventKind) bool {
	if len(s.events) == 0 {
		return true // no filter means all kinds
	}
	return s.events[kind]
}
