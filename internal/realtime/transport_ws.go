package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsHandshakeLimit = 10 * time.Second
)

// controlFrame is the envelope for non-payload frames exchanged with
// the realtime gateway (microphone toggles, track announcements).
type controlFrame struct {
	Type    string `json:"type"`
	Track   string `json:"track,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// WSTransport is a websocket data-channel bridge to the realtime
// gateway. Text frames carry JSON payloads; a small set of control
// frames maps to Connected/TrackSubscribed signals.
type WSTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	events chan TransportEvent
	done   chan struct{}
	closed bool
}

// NewWSTransport creates an unconnected websocket transport.
func NewWSTransport() *WSTransport {
	return &WSTransport{
		events: make(chan TransportEvent, 64),
		done:   make(chan struct{}),
	}
}

// Connect dials the gateway. The token travels as a bearer header. On
// success the Connected event is emitted and the read loop starts.
func (t *WSTransport) Connect(ctx context.Context, url, token string) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeLimit}
	header := http.Header{"Authorization": {"Bearer " + token}}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.events <- TransportEvent{Type: EventConnected}
	go t.readLoop()
	return nil
}

// Disconnect closes the connection. Safe to call repeatedly.
func (t *WSTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		return t.conn.Close()
	}
	return nil
}

// PublishData sends a payload frame. Websocket delivery is ordered and
// reliable, so the reliable flag has no further effect here.
func (t *WSTransport) PublishData(data []byte, reliable bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.closed {
		return websocket.ErrCloseSent
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// SetMicrophoneEnabled tells the gateway to start or stop publishing
// the local audio track.
func (t *WSTransport) SetMicrophoneEnabled(enabled bool) error {
	frame, err := json.Marshal(controlFrame{Type: "microphone", Enabled: &enabled})
	if err != nil {
		return err
	}
	return t.PublishData(frame, true)
}

// Events returns the transport's event stream.
func (t *WSTransport) Events() <-chan TransportEvent {
	return t.events
}

func (t *WSTransport) readLoop() {
	defer func() {
		t.emit(TransportEvent{Type: EventDisconnected})
	}()

	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				log.Debug().Err(err).Msg("Transport read ended")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		// Track announcements arrive on the same channel as payloads.
		var ctrl controlFrame
		if json.Unmarshal(data, &ctrl) == nil && ctrl.Type == "track_subscribed" {
			t.emit(TransportEvent{Type: EventTrackSubscribed, Track: ctrl.Track})
			continue
		}

		t.emit(TransportEvent{Type: EventDataReceived, Data: data})
	}
}

func (t *WSTransport) emit(ev TransportEvent) {
	select {
	case t.events <- ev:
	case <-t.done:
	}
}
