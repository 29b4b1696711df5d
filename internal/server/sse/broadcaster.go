// Package sse provides Server-Sent Events fan-out of controller events
// to console UI clients.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// writeTimeout bounds writes so a stale client cannot block a broadcast.
const writeTimeout = 2 * time.Second

// client is one connected event-stream consumer.
type client struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
	id      string
}

// Broadcaster manages SSE clients and pushes controller events to all
// of them.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*client
	nextID  int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*client)}
}

// Publish sends the value to every connected client as one SSE event.
// Implements the controller's Publisher interface.
func (b *Broadcaster) Publish(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE event")
		return
	}
	message := fmt.Sprintf("data: %s\n\n", data)

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.write(c, message)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP handles one event-stream connection, blocking until the
// client goes away.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := b.add(w, flusher)
	defer b.remove(c)

	fmt.Fprintf(w, "data: {\"type\":\"connected\",\"clientId\":%q}\n\n", c.id)
	flusher.Flush()

	<-r.Context().Done()
}

func (b *Broadcaster) add(w http.ResponseWriter, flusher http.Flusher) *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	c := &client{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
		id:      fmt.Sprintf("client-%d", b.nextID),
	}
	b.clients[c.id] = c
	log.Debug().Str("clientId", c.id).Int("totalClients", len(b.clients)).Msg("SSE client connected")
	return c
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; ok {
		delete(b.clients, c.id)
		close(c.done)
	}
	total := len(b.clients)
	b.mu.Unlock()
	log.Debug().Str("clientId", c.id).Int("totalClients", total).Msg("SSE client disconnected")
}

// write pushes one message to a client, dropping the client if the
// write fails or times out.
func (b *Broadcaster) write(c *client, message string) {
	select {
	case <-c.done:
		return
	default:
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.w.Write([]byte(message))
		if err == nil {
			c.flusher.Flush()
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Debug().Str("clientId", c.id).Err(err).Msg("SSE write failed, removing client")
			b.remove(c)
		}
	case <-time.After(writeTimeout):
		log.Warn().Str("clientId", c.id).Msg("SSE write timed out, removing client")
		b.remove(c)
	case <-c.done:
	}
}
