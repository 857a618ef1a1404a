package broadcast

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type countingMetrics struct {
	mu        sync.Mutex
	delivered map[string]int
	dropped   map[string]int
	clients   int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{delivered: map[string]int{}, dropped: map[string]int{}}
}

func (m *countingMetrics) MessageDelivered(typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delivered[typ]++
}

func (m *countingMetrics) MessageDropped(typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[typ]++
}

func (m *countingMetrics) ClientsConnected(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = n
}

func startHub(t *testing.T, opts ...HubOption) *Hub {
	t.Helper()
	n := 0
	opts = append([]HubOption{WithClientIDs(func() string {
		n++
		return "client-" + strconv.Itoa(n)
	})}, opts...)
	h := NewHub(opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h
}

// drain returns every queued message, skipping the initial Connected frame.
func drain(c *Client) []Message {
	var out []Message
	for {
		m, ok := c.Queue().TryPop()
		if !ok {
			return out
		}
		if _, isConnected := m.(Connected); isConnected {
			continue
		}
		out = append(out, m)
	}
}

func TestHub_ConnectQueuesConnectedFrame(t *testing.T) {
	h := startHub(t)
	c, err := h.Connect()
	require.NoError(t, err)
	assert.Equal(t, "client-1", c.ID)

	m, ok := c.Queue().TryPop()
	require.True(t, ok)
	assert.Equal(t, Connected{ClientID: "client-1", Timestamp: m.(Connected).Timestamp}, m)
	assert.Equal(t, 1, h.ClientCount())
}

func TestHub_DeliverFiltersTrainUpdates(t *testing.T) {
	h := startHub(t)
	c, err := h.Connect()
	require.NoError(t, err)
	require.NoError(t, h.Subscribe(c.ID, []string{"T1"}))

	assert.Equal(t, 0, h.Deliver(TrainUpdate{TrainID: "T2"}))
	assert.Empty(t, drain(c))

	assert.Equal(t, 1, h.Deliver(TrainUpdate{TrainID: "T1"}))
	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, "T1", got[0].(TrainUpdate).TrainID)
}

func TestHub_SecondSubscribeReplaces(t *testing.T) {
	h := startHub(t)
	c, err := h.Connect()
	require.NoError(t, err)

	require.NoError(t, h.Subscribe(c.ID, []string{"T1", "T2"}))
	require.NoError(t, h.Subscribe(c.ID, []string{"T3"}))

	assert.Equal(t, []string{"T3"}, h.SubscribedTrainIDs())
	h.Deliver(TrainUpdate{TrainID: "T1"})
	h.Deliver(TrainUpdate{TrainID: "T3"})
	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, "T3", got[0].(TrainUpdate).TrainID)

	clients := h.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, []string{"T3"}, clients[0].SubscribedTrains)
}

func TestHub_SectionSubscriptionsAreIndependent(t *testing.T) {
	h := startHub(t)
	c, err := h.Connect()
	require.NoError(t, err)
	require.NoError(t, h.Subscribe(c.ID, []string{"T1"}))
	require.NoError(t, h.SubscribeSections(c.ID, []string{"S1"}))
	require.NoError(t, h.SubscribeSections(c.ID, []string{"S2"}))

	h.Deliver(SectionUpdate{SectionID: "S1"})
	h.Deliver(SectionUpdate{SectionID: "S2"})
	h.Deliver(TrainUpdate{TrainID: "T1"})

	got := drain(c)
	require.Len(t, got, 2)
	assert.Equal(t, "S2", got[0].(SectionUpdate).SectionID)
	assert.Equal(t, "T1", got[1].(TrainUpdate).TrainID)
}

func TestHub_BroadcastReachesEveryone(t *testing.T) {
	h := startHub(t)
	a, err := h.Connect()
	require.NoError(t, err)
	b, err := h.Connect()
	require.NoError(t, err)
	require.NoError(t, h.Subscribe(a.ID, []string{"T1"}))

	assert.Equal(t, 2, h.Broadcast(SystemAlert{AlertType: "Overspeed"}))
	assert.Equal(t, 2, h.Deliver(SystemAlert{AlertType: "HighDelay"}))
	assert.Len(t, drain(a), 2)
	assert.Len(t, drain(b), 2)
}

func TestHub_PerClientOrderAndDropOldest(t *testing.T) {
	m := newCountingMetrics()
	h := startHub(t, WithQueueSize(3), WithHubMetrics(m))
	c, err := h.Connect()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		h.Broadcast(Error{Message: strconv.Itoa(i)})
	}
	got := drain(c)
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[0].(Error).Message)
	assert.Equal(t, "3", got[1].(Error).Message)
	assert.Equal(t, "4", got[2].(Error).Message)

	m.mu.Lock()
	defer m.mu.Unlock()
	// the Connected frame and errors 0 and 1 were pushed out by the last three pushes
	assert.Equal(t, 3, m.dropped[TypeError])
	assert.Equal(t, 5, m.delivered[TypeError])
	assert.Equal(t, 1, m.clients)
}

func TestHub_DisconnectClosesQueue(t *testing.T) {
	h := startHub(t)
	c, err := h.Connect()
	require.NoError(t, err)
	h.Disconnect(c.ID)

	assert.True(t, c.Queue().Closed())
	assert.Equal(t, 0, h.ClientCount())
	assert.ErrorIs(t, h.Subscribe(c.ID, []string{"T1"}), ErrUnknownClient)
	assert.Equal(t, 0, h.Broadcast(Error{Message: "x"}))
}

func TestHub_StopClosesClientsAndRejectsCommands(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	c, err := h.Connect()
	require.NoError(t, err)

	cancel()
	<-h.Done()
	assert.True(t, c.Queue().Closed())
	_, err = h.Connect()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, h.Broadcast(Error{Message: "late"}))
}

func TestHub_ConcurrentUse(t *testing.T) {
	h := startHub(t, WithQueueSize(10000))
	var wg sync.WaitGroup
	clients := make([]*Client, 8)
	for i := range clients {
		c, err := h.Connect()
		require.NoError(t, err)
		clients[i] = c
	}
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			_ = h.Subscribe(c.ID, []string{"T" + strconv.Itoa(i%2)})
			for j := 0; j < 50; j++ {
				h.Deliver(TrainUpdate{TrainID: "T0"})
			}
		}(i, c)
	}
	wg.Wait()
	assert.ElementsMatch(t, []string{"T0", "T1"}, h.SubscribedTrainIDs())
}
