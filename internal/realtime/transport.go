// Package realtime contains the session controller and its transport
// abstraction. The transport is an opaque event source: the controller
// never predicts connection state, it reacts to what the transport
// reports.
package realtime

import "context"

// EventType identifies a transport event.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventDataReceived    EventType = "data_received"
	EventTrackSubscribed EventType = "track_subscribed"
)

// TransportEvent is one signal emitted by the transport.
type TransportEvent struct {
	Type  EventType
	Data  []byte // payload for EventDataReceived
	Track string // track identifier for EventTrackSubscribed
}

// Transport is the realtime connection to the agent. Connect blocks
// until the underlying link is established or fails; the Connected
// event still arrives through Events, which is the single authority
// for state transitions.
type Transport interface {
	Connect(ctx context.Context, url, token string) error
	Disconnect() error
	PublishData(data []byte, reliable bool) error
	SetMicrophoneEnabled(enabled bool) error
	Events() <-chan TransportEvent
}

// TransportFactory builds a fresh transport per connection attempt.
type TransportFactory func() Transport
