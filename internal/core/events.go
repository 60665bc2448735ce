package core

// Event types pushed to presentation clients.
const (
	EventStatusReport  = "statusReport"
	EventReload        = "reload"
	EventConfigUpdated = "configUpdated"
)

// Event is one push message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Publisher delivers events to every connected client.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
