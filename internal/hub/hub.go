// Package hub fans task events out to subscribers.
package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/metrics"
	"github.com/punchliner/api/internal/model"
)

const sendBuffer = 64

// Client is one subscription to a task's events. The events channel is
// closed when the task reaches a terminal state, when the task is closed
// without an event, or when the client falls too far behind.
type Client struct {
	TaskID string

	send chan model.Event
	hub  *Hub
	once sync.Once
}

// Events returns the subscription's event stream
func (c *Client) Events() <-chan model.Event {
	return c.send
}

// Close ends the subscription. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		c.hub.unsubscribe(c)
	})
}

// Hub maintains task subscriptions. All membership changes and broadcasts
// run on one loop, so events for a task reach every subscriber in order.
type Hub struct {
	// Clients grouped by task ID
	clients map[string]map[*Client]bool

	// Latest event per task, replayed to late subscribers
	last map[string]model.Event

	// Tasks closed without a terminal event
	ended map[string]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan model.Event
	closeTask  chan string
	forget     chan string
	done       chan struct{}

	mu     sync.RWMutex
	onIdle func(taskID string)

	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New creates a new Hub. Call Run before subscribing.
func New(logger zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		last:       make(map[string]model.Event),
		ended:      make(map[string]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan model.Event, 256),
		closeTask:  make(chan string, 16),
		forget:     make(chan string, 16),
		done:       make(chan struct{}),
		logger:     logger.With().Str("component", "hub").Logger(),
		metrics:    m,
	}
}

// OnIdle sets the callback run when the last subscriber of a task that has
// not finished goes away. It runs on its own goroutine.
func (h *Hub) OnIdle(fn func(taskID string)) {
	h.mu.Lock()
	h.onIdle = fn
	h.mu.Unlock()
}

// Run starts the hub's main loop and blocks until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for taskID := range h.clients {
				h.closeAll(taskID)
			}
			return

		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.remove(client, true)

		case ev := <-h.broadcast:
			h.deliver(ev)

		case taskID := <-h.closeTask:
			h.ended[taskID] = true
			h.closeAll(taskID)

		case taskID := <-h.forget:
			delete(h.last, taskID)
			delete(h.ended, taskID)
		}
	}
}

// Subscribe registers a new client for taskID. The latest event of the task,
// if any, is delivered first.
func (h *Hub) Subscribe(taskID string) *Client {
	client := &Client{
		TaskID: taskID,
		send:   make(chan model.Event, sendBuffer),
		hub:    h,
	}

	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
	return client
}

// Publish queues an event for the task's subscribers
func (h *Hub) Publish(ev model.Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Close ends every subscription of taskID without sending an event
func (h *Hub) Close(taskID string) {
	select {
	case h.closeTask <- taskID:
	case <-h.done:
	}
}

// Forget drops the remembered state of a finished task
func (h *Hub) Forget(taskID string) {
	select {
	case h.forget <- taskID:
	case <-h.done:
	}
}

func (h *Hub) unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) add(client *Client) {
	taskID := client.TaskID

	if h.ended[taskID] {
		close(client.send)
		return
	}
	if ev, ok := h.last[taskID]; ok {
		client.send <- ev
		if ev.Status.IsTerminal() {
			close(client.send)
			return
		}
	}

	if h.clients[taskID] == nil {
		h.clients[taskID] = make(map[*Client]bool)
	}
	h.clients[taskID][client] = true
	h.metrics.SubscriberAdded()
	h.logger.Debug().Str("taskId", taskID).Int("subscribers", len(h.clients[taskID])).Msg("client subscribed")
}

// remove drops a client and reports the task idle when it was the last one
func (h *Hub) remove(client *Client, notify bool) {
	clients, ok := h.clients[client.TaskID]
	if !ok || !clients[client] {
		return
	}

	delete(clients, client)
	close(client.send)
	h.metrics.SubscriberRemoved()
	h.logger.Debug().Str("taskId", client.TaskID).Int("subscribers", len(clients)).Msg("client unsubscribed")

	if len(clients) > 0 {
		return
	}
	delete(h.clients, client.TaskID)

	if !notify || h.ended[client.TaskID] || h.last[client.TaskID].Status.IsTerminal() {
		return
	}

	h.mu.RLock()
	onIdle := h.onIdle
	h.mu.RUnlock()
	if onIdle != nil {
		go onIdle(client.TaskID)
	}
}

func (h *Hub) deliver(ev model.Event) {
	h.last[ev.TaskID] = ev

	for client := range h.clients[ev.TaskID] {
		select {
		case client.send <- ev:
		default:
			// a stalled consumer is dropped without cancelling the task
			h.logger.Warn().Str("taskId", ev.TaskID).Msg("dropping slow subscriber")
			h.remove(client, false)
		}
	}

	if ev.Status.IsTerminal() {
		h.closeAll(ev.TaskID)
	}
}

func (h *Hub) closeAll(taskID string) {
	for client := range h.clients[taskID] {
		close(client.send)
		h.metrics.SubscriberRemoved()
	}
	delete(h.clients, taskID)
}
