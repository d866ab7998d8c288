package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePubSub struct {
	mu        sync.Mutex
	published []WSMessage
	pubErr    error
	subErr    error
	entered   chan struct{} // signalled when Subscribe starts, if set
	release   chan struct{} // Subscribe waits on it, if set
	handler   func(event string, payload []byte)
	subs      int
	cancels   int
}

func (f *fakePubSub) PublishEvent(event string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, WSMessage{Event: event, Data: payload})
	return nil
}

func (f *fakePubSub) Subscribe(handler func(event string, payload []byte)) (func(), error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs++
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.handler = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cancels++
	}, nil
}

func newTestClient(id string, buffer int) *Client {
	return &Client{ID: id, send: make(chan WSMessage, buffer), logger: zap.NewNop()}
}

// drain returns every queued message without blocking.
func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHubBroadcastReachesEveryClient(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil)
	a, b := newTestClient("a", 8), newTestClient("b", 8)
	h.Register(a)
	h.Register(b)
	assert.Equal(t, 2, h.ParticipantCount())

	h.Broadcast("poll_update", map[string]int{"total_responses": 1})
	for _, c := range []*Client{a, b} {
		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.Equal(t, "poll_update", msgs[0].Event)
		assert.JSONEq(t, `{"total_responses":1}`, string(msgs[0].Data))
	}
}

func TestHubSendToTargetsOneClient(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil)
	a, b := newTestClient("a", 8), newTestClient("b", 8)
	h.Register(a)
	h.Register(b)

	h.SendTo("a", "error", map[string]string{"kind": "validation_error"})
	h.SendTo("missing", "error", nil)
	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}

func TestHubFullBufferDropsWithoutBlocking(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil)
	slow := newTestClient("slow", 1)
	fast := newTestClient("fast", 8)
	h.Register(slow)
	h.Register(fast)

	for i := 0; i < 5; i++ {
		h.Broadcast("poll_update", i)
	}
	assert.Len(t, drain(slow), 1)
	assert.Len(t, drain(fast), 5)
}

func TestHubUnregisterClosesSendAndIsIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil)
	c := newTestClient("a", 8)
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)

	_, ok := <-c.send
	assert.False(t, ok)
	assert.Zero(t, h.ParticipantCount())

	// Broadcasting after removal must not touch the closed channel.
	h.Broadcast("poll_update", 1)
}

func TestHubParticipantChangeHandler(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil)
	var counts []int
	h.SetParticipantChangeHandler(func(n int) { counts = append(counts, n) })

	a, b := newTestClient("a", 8), newTestClient("b", 8)
	h.Register(a)
	h.Register(b)
	h.Unregister(a)
	assert.Equal(t, []int{1, 2, 1}, counts)
}

func TestHubRedisSubscriptionFollowsParticipants(t *testing.T) {
	t.Parallel()

	ps := &fakePubSub{}
	h := NewHub(nil, ps, ps)
	a, b := newTestClient("a", 8), newTestClient("b", 8)
	h.Register(a)
	h.EnsureSubscribed()
	h.Register(b)
	h.EnsureSubscribed()
	assert.Equal(t, 1, ps.subs)

	ps.handler("chat_message", []byte(`{"message":"hi"}`))
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)

	h.Unregister(a)
	assert.Zero(t, ps.cancels)
	h.Unregister(b)
	assert.Equal(t, 1, ps.cancels)
}

func TestHubBroadcastAndPublish(t *testing.T) {
	t.Parallel()

	t.Run("delivers locally and publishes", func(t *testing.T) {
		t.Parallel()
		ps := &fakePubSub{}
		h := NewHub(nil, ps, ps)
		c := newTestClient("a", 8)
		h.Register(c)

		h.BroadcastAndPublish("chat_message", map[string]string{"message": "hi"})
		require.Len(t, ps.published, 1)
		assert.Equal(t, "chat_message", ps.published[0].Event)
		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.JSONEq(t, `{"message":"hi"}`, string(msgs[0].Data))
	})

	t.Run("publish failure still delivers locally", func(t *testing.T) {
		t.Parallel()
		ps := &fakePubSub{pubErr: errors.New("redis down")}
		h := NewHub(nil, ps, ps)
		c := newTestClient("a", 8)
		h.Register(c)

		h.BroadcastAndPublish("chat_message", map[string]string{"message": "hi"})
		assert.Len(t, drain(c), 1)
	})

	t.Run("without redis", func(t *testing.T) {
		t.Parallel()
		h := NewHub(nil, nil, nil)
		c := newTestClient("a", 8)
		h.Register(c)
		h.BroadcastAndPublish("chat_message", "hi")
		assert.Len(t, drain(c), 1)
	})
}

func TestHubSubscribeFailureKeepsLocalChatAndRetries(t *testing.T) {
	t.Parallel()

	ps := &fakePubSub{subErr: errors.New("dial tcp: connection refused")}
	h := NewHub(nil, ps, ps)
	sender, other := newTestClient("sender", 8), newTestClient("other", 8)
	h.Register(sender)
	h.Register(other)
	h.EnsureSubscribed()
	assert.False(t, h.subscribed())

	h.BroadcastAndPublish("chat_message", map[string]string{"message": "still here"})
	for _, c := range []*Client{sender, other} {
		msgs := drain(c)
		require.Len(t, msgs, 1)
		assert.JSONEq(t, `{"message":"still here"}`, string(msgs[0].Data))
	}
	assert.Len(t, ps.published, 1)

	ps.mu.Lock()
	ps.subErr = nil
	attempts := ps.subs
	ps.mu.Unlock()

	h.BroadcastAndPublish("chat_message", "again")
	assert.True(t, h.subscribed())
	assert.Equal(t, attempts+1, ps.subs)

	ps.handler("chat_message", []byte(`"from another instance"`))
	assert.Len(t, drain(other), 2)
}

func TestHubSubscribeRunsOutsideRegistryLock(t *testing.T) {
	t.Parallel()

	ps := &fakePubSub{entered: make(chan struct{}), release: make(chan struct{})}
	h := NewHub(nil, ps, ps)
	c := newTestClient("a", 8)

	registered := make(chan struct{})
	go func() {
		h.Register(c)
		h.EnsureSubscribed()
		close(registered)
	}()
	<-ps.entered

	// Subscribe is in flight; fan-out must not wait for it.
	sent := make(chan struct{})
	go func() {
		h.SendTo("a", "poll_status", nil)
		h.Broadcast("poll_update", 1)
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out blocked behind redis subscribe")
	}
	assert.Len(t, drain(c), 2)

	close(ps.release)
	<-registered
	assert.True(t, h.subscribed())
}

func TestHubParticipantCountsArriveInOrder(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil)
	h.SetParticipantChangeHandler(func(n int) {
		h.Broadcast("participant_count", map[string]int{"count": n})
	})
	watcher := newTestClient("watcher", 1024)
	h.Register(watcher)

	const clients = 100
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newTestClient(fmt.Sprintf("c%d", i), 1024)
			h.Register(c)
			h.Unregister(c)
		}(i)
	}
	wg.Wait()

	var counts []int
	for _, m := range drain(watcher) {
		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(m.Data, &body))
		counts = append(counts, body.Count)
	}
	require.Len(t, counts, 1+2*clients)
	assert.Equal(t, 1, counts[0])
	assert.Equal(t, 1, counts[len(counts)-1])
	for i := 1; i < len(counts); i++ {
		diff := counts[i] - counts[i-1]
		assert.True(t, diff == 1 || diff == -1, "count jumped from %d to %d", counts[i-1], counts[i])
	}
}

func TestNewMessagePassesRawJSONThrough(t *testing.T) {
	t.Parallel()

	msg, err := newMessage("poll_status", json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Equal(t, "null", string(msg.Data))

	_, err = newMessage("bad", make(chan int))
	assert.Error(t, err)
}
