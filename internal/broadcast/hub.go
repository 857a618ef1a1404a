package broadcast

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("hub closed")

// ErrUnknownClient is returned by subscription calls for an id that is not connected.
var ErrUnknownClient = errors.New("unknown client")

// ClientInfo is a point-in-time view of one observer.
type ClientInfo struct {
	ClientID           string    `json:"client_id"`
	SubscribedTrains   []string  `json:"subscribed_trains"`
	SubscribedSections []string  `json:"subscribed_sections"`
	ConnectedAt        time.Time `json:"connected_at"`
	LastActivity       time.Time `json:"last_activity"`
}

// HubMetrics receives delivery counters; nil disables them.
type HubMetrics interface {
	MessageDelivered(msgType string)
	MessageDropped(msgType string)
	ClientsConnected(n int)
}

// Client is the handle a transport uses to drain one observer's messages.
type Client struct {
	ID    string
	queue *Queue
}

func (c *Client) Queue() *Queue { return c.queue }

type clientState struct {
	client      *Client
	trains      map[string]struct{}
	sections    map[string]struct{}
	connectedAt time.Time
	lastActive  time.Time
}

// Hub owns the observer registry. Only the goroutine running Run touches
// the client map; every public method is a command executed there.
// Commands never perform I/O: delivery is a push onto a client's Queue.
type Hub struct {
	cmds      chan func(map[string]*clientState)
	stopped   chan struct{}
	queueSize int
	now       func() time.Time
	newID     func() string
	metrics   HubMetrics
	log       zerolog.Logger
}

type HubOption func(*Hub)

func WithQueueSize(n int) HubOption        { return func(h *Hub) { h.queueSize = n } }
func WithHubMetrics(m HubMetrics) HubOption { return func(h *Hub) { h.metrics = m } }
func WithHubLogger(l zerolog.Logger) HubOption {
	return func(h *Hub) { h.log = l }
}
func WithHubClock(now func() time.Time) HubOption { return func(h *Hub) { h.now = now } }
func WithClientIDs(newID func() string) HubOption {
	return func(h *Hub) { h.newID = newID }
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		cmds:      make(chan func(map[string]*clientState)),
		stopped:   make(chan struct{}),
		queueSize: 1000,
		now:       time.Now,
		newID:     uuid.NewString,
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run executes commands until ctx is done, then closes every client queue.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[string]*clientState)
	defer func() {
		for _, c := range clients {
			c.client.queue.Close()
		}
		close(h.stopped)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-h.cmds:
			fn(clients)
		}
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.stopped }

func (h *Hub) exec(fn func(map[string]*clientState)) error {
	done := make(chan struct{})
	select {
	case h.cmds <- func(c map[string]*clientState) {
		fn(c)
		close(done)
	}:
	case <-h.stopped:
		return ErrClosed
	}
	<-done
	return nil
}

// Connect registers a new observer. Its queue starts with a Connected frame.
func (h *Hub) Connect() (*Client, error) {
	now := h.now().UTC()
	c := &Client{ID: h.newID(), queue: NewQueue(h.queueSize)}
	var n int
	err := h.exec(func(m map[string]*clientState) {
		st := &clientState{
			client:      c,
			trains:      map[string]struct{}{},
			sections:    map[string]struct{}{},
			connectedAt: now,
			lastActive:  now,
		}
		m[c.ID] = st
		h.push(st, Connected{ClientID: c.ID, Timestamp: now})
		n = len(m)
	})
	if err != nil {
		return nil, err
	}
	h.gauge(n)
	h.log.Info().Str("event", "client.connected").Str("client_id", c.ID).Int("clients", n).Msg("client connected")
	return c, nil
}

func (h *Hub) Disconnect(id string) {
	var n int
	found := false
	_ = h.exec(func(m map[string]*clientState) {
		if c, ok := m[id]; ok {
			delete(m, id)
			c.client.queue.Close()
			found = true
		}
		n = len(m)
	})
	if found {
		h.gauge(n)
		h.log.Info().Str("event", "client.disconnected").Str("client_id", id).Int("clients", n).Msg("client disconnected")
	}
}

// Subscribe replaces the client's train subscriptions with trainIDs.
func (h *Hub) Subscribe(id string, trainIDs []string) error {
	return h.replace(id, trainIDs, func(c *clientState, set map[string]struct{}) { c.trains = set })
}

// SubscribeSections replaces the client's section subscriptions.
func (h *Hub) SubscribeSections(id string, sectionIDs []string) error {
	return h.replace(id, sectionIDs, func(c *clientState, set map[string]struct{}) { c.sections = set })
}

func (h *Hub) replace(id string, ids []string, assign func(*clientState, map[string]struct{})) error {
	set := make(map[string]struct{}, len(ids))
	for _, v := range ids {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	now := h.now().UTC()
	found := false
	if err := h.exec(func(m map[string]*clientState) {
		if c, ok := m[id]; ok {
			assign(c, set)
			c.lastActive = now
			found = true
		}
	}); err != nil {
		return err
	}
	if !found {
		return ErrUnknownClient
	}
	return nil
}

// Touch records inbound activity from a client.
func (h *Hub) Touch(id string) {
	now := h.now().UTC()
	_ = h.exec(func(m map[string]*clientState) {
		if c, ok := m[id]; ok {
			c.lastActive = now
		}
	})
}

// Send queues msg for one client only.
func (h *Hub) Send(id string, msg Message) error {
	found := false
	if err := h.exec(func(m map[string]*clientState) {
		if c, ok := m[id]; ok {
			h.push(c, msg)
			found = true
		}
	}); err != nil {
		return err
	}
	if !found {
		return ErrUnknownClient
	}
	return nil
}

// Broadcast queues msg for every connected client and returns how many
// clients received it.
func (h *Hub) Broadcast(msg Message) int {
	return h.fanout(msg, func(*clientState) bool { return true })
}

// Deliver applies subscription filtering: a TrainUpdate reaches only
// clients subscribed to its train, a SectionUpdate only clients subscribed
// to its section. Every other variant goes to all clients.
func (h *Hub) Deliver(msg Message) int {
	switch m := msg.(type) {
	case TrainUpdate:
		return h.fanout(msg, func(c *clientState) bool {
			_, ok := c.trains[m.TrainID]
			return ok
		})
	case SectionUpdate:
		return h.fanout(msg, func(c *clientState) bool {
			_, ok := c.sections[m.SectionID]
			return ok
		})
	default:
		return h.Broadcast(msg)
	}
}

func (h *Hub) fanout(msg Message, want func(*clientState) bool) int {
	sent := 0
	_ = h.exec(func(m map[string]*clientState) {
		for _, c := range m {
			if want(c) && h.push(c, msg) {
				sent++
			}
		}
	})
	return sent
}

func (h *Hub) push(c *clientState, msg Message) bool {
	dropped, ok := c.client.queue.Push(msg)
	if h.metrics != nil {
		if dropped {
			h.metrics.MessageDropped(msg.Type())
		}
		if ok {
			h.metrics.MessageDelivered(msg.Type())
		}
	}
	return ok
}

// SubscribedTrainIDs returns the sorted union of every client's train subscriptions.
func (h *Hub) SubscribedTrainIDs() []string {
	set := map[string]struct{}{}
	_ = h.exec(func(m map[string]*clientState) {
		for _, c := range m {
			for id := range c.trains {
				set[id] = struct{}{}
			}
		}
	})
	return sortedKeys(set)
}

func (h *Hub) Clients() []ClientInfo {
	var out []ClientInfo
	_ = h.exec(func(m map[string]*clientState) {
		out = make([]ClientInfo, 0, len(m))
		for _, c := range m {
			out = append(out, ClientInfo{
				ClientID:           c.client.ID,
				SubscribedTrains:   sortedKeys(c.trains),
				SubscribedSections: sortedKeys(c.sections),
				ConnectedAt:        c.connectedAt,
				LastActivity:       c.lastActive,
			})
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (h *Hub) ClientCount() int {
	n := 0
	_ = h.exec(func(m map[string]*clientState) { n = len(m) })
	return n
}

func (h *Hub) gauge(n int) {
	if h.metrics != nil {
		h.metrics.ClientsConnected(n)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
