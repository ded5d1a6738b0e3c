package engine

import (
	"time"

	"github.com/marketpilot/marketpilot/internal/core"
)

// Event is a live notification pushed to connected dashboards whenever the
// engine changes state. Events mirror ledger entries but are transient:
// the ledger is the record, events are the feed.
type Event struct {
	Type      string        `json:"type"`
	Entity    string        `json:"entity"`
	EntityID  string        `json:"entity_id"`
	ClientID  core.ClientID `json:"client_id,omitempty"`
	Payload   interface{}   `json:"payload,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Publisher pushes events to whoever is listening. Implementations must not
// block: a slow consumer is the consumer's problem.
type Publisher interface {
	Publish(e Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(e Event)

// Publish calls f.
func (f PublisherFunc) Publish(e Event) { f(e) }

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}
