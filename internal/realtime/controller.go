package realtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/freyalabs/console/internal/sessions"
	"github.com/freyalabs/console/pkg/models"
)

// Mode selects voice or text conversation.
type Mode string

const (
	ModeVoice Mode = "voice"
	ModeText  Mode = "text"
)

// State is the controller's connection state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
)

var (
	// ErrNotIdle rejects a connect while a connection exists or is in
	// flight.
	ErrNotIdle = errors.New("connect rejected: controller not idle")
	// ErrNotConnected rejects sends while the transport is down.
	ErrNotConnected = errors.New("not connected")
)

// tokensPerSecFloor replaces non-positive throughput estimates.
const tokensPerSecFloor = 25

// wordsPerToken approximates token count from whitespace-separated
// words. Exact token counting is out of scope.
const wordsPerToken = 1.3

// payload is the data-channel wire format.
type payload struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Publisher receives controller events for fan-out to UI clients.
type Publisher interface {
	Publish(v any)
}

// Status is a read-only snapshot of the controller.
type Status struct {
	State     State  `json:"state"`
	SessionID string `json:"sessionId,omitempty"`
	Mode      Mode   `json:"mode,omitempty"`
	Muted     bool   `json:"muted"`
	Error     string `json:"error,omitempty"`
}

type opKind int

const (
	opConnect opKind = iota
	opDisconnect
	opSend
	opMute
	opTransportEvent
	opAttemptFailed
	opAttemptEstablished
)

// envelope is one unit of work on the controller queue. Commands and
// transport events travel the same bounded queue and are processed by a
// single consumer in strict arrival order, so no handler ever races
// another.
type envelope struct {
	kind       opKind
	promptID   string
	promptBody string
	content    string
	mode       Mode
	muted      bool
	err        error
	transport  Transport
	ev         TransportEvent
	attempt    uint64
	reply      chan error
}

// Controller owns the realtime event source and drives session
// lifecycle and metrics updates. All state below the queue is touched
// only by the run loop.
type Controller struct {
	sessions     *sessions.Repository
	tokens       TokenService
	newTransport TransportFactory
	publisher    Publisher

	queue  chan envelope
	runCtx context.Context

	// run-loop state
	state             State
	transport         Transport
	sessionID         string
	mode              Mode
	attempt           uint64
	lastUserAt        time.Time
	pendingDisconnect bool
	muted             bool

	// reader snapshot
	box statusBox

	eventsProcessed   metric.Int64Counter
	malformedPayloads metric.Int64Counter
	connectFailures   metric.Int64Counter
}

// Option configures a Controller.
type Option func(*Controller)

// WithPublisher attaches an event publisher (e.g. the SSE broadcaster).
func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// NewController creates a controller in the Idle state. Run must be
// called before commands are accepted.
func NewController(repo *sessions.Repository, tokens TokenService, factory TransportFactory, opts ...Option) *Controller {
	c := &Controller{
		sessions:     repo,
		tokens:       tokens,
		newTransport: factory,
		queue:        make(chan envelope, 256),
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.box.set(Status{State: StateIdle})

	meter := otel.Meter("github.com/freyalabs/console/internal/realtime")
	c.eventsProcessed, _ = meter.Int64Counter("console.realtime.events_processed",
		metric.WithDescription("Transport events processed by the controller."))
	c.malformedPayloads, _ = meter.Int64Counter("console.realtime.malformed_payloads",
		metric.WithDescription("Inbound payloads that could not be decoded."))
	c.connectFailures, _ = meter.Int64Counter("console.realtime.connect_failures",
		metric.WithDescription("Connection attempts that failed before Connected."))

	return c
}

// Connect starts a connection attempt for the prompt. Rejected unless
// the controller is Idle. The session record is created before the
// transport confirms, so events arriving during negotiation are not
// lost.
func (c *Controller) Connect(ctx context.Context, promptID, promptBody string, mode Mode) error {
	return c.submit(ctx, envelope{kind: opConnect, promptID: promptID, promptBody: promptBody, mode: mode})
}

// Disconnect tears down the connection and ends the session. Safe to
// call repeatedly or while Idle. During Connecting the disconnect is
// deferred and applied as soon as the attempt resolves.
func (c *Controller) Disconnect(ctx context.Context) error {
	return c.submit(ctx, envelope{kind: opDisconnect})
}

// SendMessage appends the user message optimistically and publishes it
// over the transport. Rejected without state change when not Connected.
func (c *Controller) SendMessage(ctx context.Context, content string) error {
	return c.submit(ctx, envelope{kind: opSend, content: content})
}

// SetMuted toggles local audio publishing. Voice mode only; a no-op in
// text mode.
func (c *Controller) SetMuted(ctx context.Context, muted bool) error {
	return c.submit(ctx, envelope{kind: opMute, muted: muted})
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	return c.box.get()
}

func (c *Controller) submit(ctx context.Context, env envelope) error {
	env.reply = make(chan error, 1)
	select {
	case c.queue <- env:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-env.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// push enqueues loop-internal work (transport events, attempt results).
func (c *Controller) push(env envelope) {
	select {
	case c.queue <- env:
	default:
		// Queue full: drop and count. Dropping beats blocking the
		// transport reader behind a stalled consumer.
		log.Warn().Msg("Controller queue full, dropping event")
	}
}

// Run drains the queue until ctx is cancelled. All mutations happen
// here, one event at a time, in arrival order.
func (c *Controller) Run(ctx context.Context) error {
	c.runCtx = ctx
	for {
		select {
		case <-ctx.Done():
			if c.state != StateIdle {
				c.teardown("")
			}
			return ctx.Err()
		case env := <-c.queue:
			c.handle(ctx, env)
		}
	}
}

func (c *Controller) handle(ctx context.Context, env envelope) {
	c.eventsProcessed.Add(ctx, 1)

	switch env.kind {
	case opConnect:
		env.reply <- c.handleConnect(env)
	case opDisconnect:
		c.handleDisconnect()
		env.reply <- nil
	case opSend:
		env.reply <- c.handleSend(env.content)
	case opMute:
		env.reply <- c.handleMute(env.muted)
	case opAttemptFailed:
		c.handleAttemptFailed(env)
	case opAttemptEstablished:
		c.handleAttemptEstablished(env)
	case opTransportEvent:
		if env.attempt != c.attempt {
			return // stale event from a torn-down transport
		}
		c.handleTransportEvent(ctx, env.ev)
	}
}

func (c *Controller) handleConnect(env envelope) error {
	if c.state != StateIdle {
		return ErrNotIdle
	}

	sess := c.sessions.Create(env.promptID)
	c.sessionID = sess.ID
	c.mode = env.mode
	c.attempt++
	c.lastUserAt = time.Time{}
	c.pendingDisconnect = false
	c.muted = false
	c.setState(StateConnecting, "")

	// The attempt must outlive the caller's request context; it is
	// bound to the controller's lifetime instead.
	go c.runAttempt(c.runCtx, c.attempt, env.promptBody, env.mode)
	return nil
}

// runAttempt performs the blocking part of a connection attempt (token
// fetch, transport dial) off the loop. Results come back through the
// queue.
func (c *Controller) runAttempt(ctx context.Context, attempt uint64, promptBody string, mode Mode) {
	room := fmt.Sprintf("session-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])

	tok, err := c.tokens.Issue(ctx, TokenRequest{
		Room:        room,
		Participant: "user",
		Metadata:    promptBody,
		Mode:        string(mode),
	})
	if err != nil {
		c.push(envelope{kind: opAttemptFailed, attempt: attempt, err: err})
		return
	}

	t := c.newTransport()
	if err := t.Connect(ctx, tok.URL, tok.Token); err != nil {
		c.push(envelope{kind: opAttemptFailed, attempt: attempt, err: fmt.Errorf("transport connect: %w", err)})
		return
	}

	c.push(envelope{kind: opAttemptEstablished, attempt: attempt, transport: t})

	// Forward transport events into the queue until the transport
	// reports Disconnected. The attempt tag lets the loop discard
	// anything that outlives a teardown.
	for ev := range t.Events() {
		c.push(envelope{kind: opTransportEvent, attempt: attempt, ev: ev})
		if ev.Type == EventDisconnected {
			return
		}
	}
}

func (c *Controller) handleAttemptFailed(env envelope) {
	if env.attempt != c.attempt || c.state != StateConnecting {
		return
	}
	c.connectFailures.Add(context.Background(), 1)
	log.Error().Err(env.err).Str("sessionId", c.sessionID).Msg("Connection attempt failed")

	c.sessions.End(c.sessionID)
	c.sessionID = ""
	c.transport = nil
	c.pendingDisconnect = false
	c.setState(StateIdle, env.err.Error())
}

func (c *Controller) handleAttemptEstablished(env envelope) {
	if env.attempt != c.attempt || c.state != StateConnecting {
		// A teardown already happened; close the orphaned transport.
		_ = env.transport.Disconnect()
		return
	}
	c.transport = env.transport
}

func (c *Controller) handleTransportEvent(ctx context.Context, ev TransportEvent) {
	switch ev.Type {
	case EventConnected:
		if c.pendingDisconnect {
			// Disconnect arrived while Connecting: apply it now.
			c.teardown("")
			return
		}
		c.setState(StateConnected, "")
		if c.mode == ModeVoice && c.transport != nil {
			if err := c.transport.SetMicrophoneEnabled(true); err != nil {
				log.Warn().Err(err).Msg("Failed to enable microphone")
			}
		}
		log.Info().Str("sessionId", c.sessionID).Str("mode", string(c.mode)).Msg("Connected")

	case EventDisconnected:
		// The transport is the single authority on disconnection.
		log.Info().Str("sessionId", c.sessionID).Msg("Transport disconnected")
		c.teardown("")

	case EventDataReceived:
		c.handleData(ctx, ev.Data)

	case EventTrackSubscribed:
		// Audio attachment is a UI concern; just record the signal.
		log.Debug().Str("track", ev.Track).Msg("Track subscribed")
		c.publish(map[string]any{"type": "track", "track": ev.Track})
	}
}

// handleData decodes one inbound payload and applies the latency
// correlation algorithm. Malformed payloads count against the active
// session's errorCount and never propagate.
func (c *Controller) handleData(ctx context.Context, data []byte) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		c.recordMalformed(ctx, err)
		return
	}
	if p.Type != "transcript" && p.Type != "text_message" {
		log.Debug().Str("type", p.Type).Msg("Ignoring unhandled payload type")
		return
	}
	role := models.Role(p.Role)
	if !role.Valid() {
		c.recordMalformed(ctx, fmt.Errorf("unknown role %q", p.Role))
		return
	}

	now := time.Now()
	switch role {
	case models.RoleUser:
		// Each user turn overwrites the pending timestamp: only the
		// most recent one is correlated with the next assistant reply.
		c.lastUserAt = now
		msg := c.sessions.AddMessage(c.sessionID, sessions.NewMessage{Role: models.RoleUser, Content: p.Content})
		c.publishMessage(msg)

	case models.RoleAssistant:
		nm := sessions.NewMessage{Role: models.RoleAssistant, Content: p.Content}
		if !c.lastUserAt.IsZero() {
			latency := int(now.Sub(c.lastUserAt).Milliseconds())
			tps := estimateTokensPerSec(p.Content, latency)
			nm.Latency = latency
			nm.TokensPerSec = tps
			c.lastUserAt = time.Time{} // one correlation per user turn

			msg := c.sessions.AddMessage(c.sessionID, nm)
			c.sessions.UpdateMetrics(c.sessionID, sessions.MetricsUpdate{
				FirstTokenLatency: &latency,
				TokensPerSec:      &tps,
			})
			c.publishMessage(msg)
			return
		}
		msg := c.sessions.AddMessage(c.sessionID, nm)
		c.publishMessage(msg)
	}
}

func (c *Controller) handleDisconnect() {
	switch c.state {
	case StateIdle:
		// Nothing to do; disconnect must never fail.
	case StateConnecting:
		c.pendingDisconnect = true
		log.Debug().Msg("Disconnect deferred until connection attempt resolves")
	case StateConnected:
		c.teardown("")
	}
}

func (c *Controller) handleSend(content string) error {
	if c.state != StateConnected || c.transport == nil {
		return ErrNotConnected
	}

	// Optimistic append before transport acknowledgment.
	msg := c.sessions.AddMessage(c.sessionID, sessions.NewMessage{Role: models.RoleUser, Content: content})
	c.lastUserAt = time.Now()
	c.publishMessage(msg)

	data, err := json.Marshal(payload{Type: "text_message", Role: string(models.RoleUser), Content: content})
	if err != nil {
		return err
	}
	if err := c.transport.PublishData(data, true); err != nil {
		log.Warn().Err(err).Msg("Failed to publish message")
		return err
	}
	return nil
}

func (c *Controller) handleMute(muted bool) error {
	if c.mode != ModeVoice || c.state != StateConnected || c.transport == nil {
		return nil
	}
	c.muted = muted
	if err := c.transport.SetMicrophoneEnabled(!muted); err != nil {
		log.Warn().Err(err).Msg("Failed to toggle microphone")
		return err
	}
	c.syncStatus()
	return nil
}

// teardown closes the transport, ends the session, and returns to Idle.
func (c *Controller) teardown(errMsg string) {
	if c.transport != nil {
		_ = c.transport.Disconnect()
		c.transport = nil
	}
	if c.sessionID != "" {
		c.sessions.End(c.sessionID)
		c.sessionID = ""
	}
	c.attempt++ // invalidate any in-flight forwarder
	c.pendingDisconnect = false
	c.lastUserAt = time.Time{}
	c.muted = false
	c.setState(StateIdle, errMsg)
}

func (c *Controller) recordMalformed(ctx context.Context, err error) {
	c.malformedPayloads.Add(ctx, 1)
	log.Warn().Err(err).Str("sessionId", c.sessionID).Msg("Malformed inbound payload")
	c.sessions.UpdateMetrics(c.sessionID, sessions.MetricsUpdate{ErrorDelta: 1})
}

func (c *Controller) setState(state State, errMsg string) {
	c.state = state
	c.box.set(Status{
		State:     state,
		SessionID: c.sessionID,
		Mode:      c.mode,
		Muted:     c.muted,
		Error:     errMsg,
	})
	c.publish(map[string]any{"type": "state", "state": state, "sessionId": c.sessionID, "error": errMsg})
}

// syncStatus refreshes the snapshot fields that change without a state
// transition (mute toggles).
func (c *Controller) syncStatus() {
	st := c.box.get()
	st.SessionID = c.sessionID
	st.Mode = c.mode
	st.Muted = c.muted
	c.box.set(st)
}

func (c *Controller) publish(v any) {
	if c.publisher != nil {
		c.publisher.Publish(v)
	}
}

func (c *Controller) publishMessage(msg *models.Message) {
	if msg == nil {
		return
	}
	c.publish(map[string]any{"type": "message", "sessionId": c.sessionID, "message": msg})
}

// statusBox holds the snapshot handed to readers outside the run loop.
type statusBox struct {
	mu sync.RWMutex
	s  Status
}

func (b *statusBox) get() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s
}

func (b *statusBox) set(s Status) {
	b.mu.Lock()
	b.s = s
	b.mu.Unlock()
}

// estimateTokensPerSec approximates throughput from word count:
// tokens = round(words * 1.3), tokensPerSec = tokens / latency * 1000.
// Non-positive results fall back to a floor so metrics stay sane.
func estimateTokensPerSec(content string, latencyMs int) int {
	if latencyMs <= 0 {
		return tokensPerSecFloor
	}
	tokens := math.Round(float64(len(strings.Fields(content))) * wordsPerToken)
	tps := int(math.Round(tokens / float64(latencyMs) * 1000))
	if tps <= 0 {
		return tokensPerSecFloor
	}
	return tps
}
