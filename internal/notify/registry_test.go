package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifybridge/internal/logging"
	"notifybridge/internal/messaging"
	"notifybridge/internal/metrics"
)

func newTestRegistry(t *testing.T) (*Registry, *messaging.MemoryNetwork) {
	t.Helper()
	net := messaging.NewMemoryNetwork()
	reg := NewRegistry(net.Dial, WithLogger(logging.NewNopLogger()))
	t.Cleanup(func() { _ = reg.Close() })
	return reg, net
}

type recorder struct{ got []string }

func (r *recorder) callback(payload json.RawMessage) { r.got = append(r.got, string(payload)) }

// assertConsistent checks that recipient is a filter on every publisher
// iff it has listeners.
func assertConsistent(t *testing.T, reg *Registry, net *messaging.MemoryNetwork, recipient string) {
	t.Helper()
	want := reg.Listeners(recipient) > 0
	for _, addr := range reg.Publishers() {
		assert.Equal(t, want, reg.Subscribed(addr, recipient), "publisher %s", addr)
		assert.Equal(t, want, net.Subscribers(addr, reg.Subject(recipient)) == 1, "publisher %s", addr)
	}
}

func TestRegistry_RegisterSubscribesOnEveryPublisher(t *testing.T) {
	reg, net := newTestRegistry(t)
	require.NoError(t, reg.AddPublisher("pub-1"))
	require.NoError(t, reg.AddPublisher("pub-2"))

	h, err := reg.Register("alice", func(json.RawMessage) {})
	require.NoError(t, err)
	assert.Equal(t, "alice", h.Recipient())
	assert.Equal(t, []string{"alice"}, reg.Recipients())
	assert.Equal(t, []string{"notifications.alice"}, net.Subjects("pub-1"))
	assertConsistent(t, reg, net, "alice")
}

func TestRegistry_RegisterThenUnregisterRestoresState(t *testing.T) {
	reg, net := newTestRegistry(t)
	require.NoError(t, reg.AddPublisher("pub-1"))

	h, err := reg.Register("alice", func(json.RawMessage) {})
	require.NoError(t, err)
	reg.Unregister("alice", h)

	assert.Empty(t, reg.Recipients())
	assert.Equal(t, 0, reg.Listeners("alice"))
	assert.Empty(t, net.Subjects("pub-1"))
	assertConsistent(t, reg, net, "alice")
}

func TestRegistry_TwoRegistrationsOneUnregister(t *testing.T) {
	reg, net := newTestRegistry(t)
	require.NoError(t, reg.AddPublisher("pub-1"))

	first, err := reg.Register("alice", func(json.RawMessage) {})
	require.NoError(t, err)
	_, err = reg.Register("alice", func(json.RawMessage) {})
	require.NoError(t, err)
	assert.Equal(t, 1, net.Subscribers("pub-1", "notifications.alice"))

	reg.Unregister("alice", first)
	assert.Equal(t, 1, reg.Listeners("alice"))
	assert.True(t, reg.Subscribed("pub-1", "alice"))
	assertConsistent(t, reg, net, "alice")
}

func TestRegistry_UnregisterUnknownHandleIsNoop(t *testing.T) {
	reg, net := newTestRegistry(t)
	require.NoError(t, reg.AddPublisher("pub-1"))

	h, err := reg.Register("alice", func(json.RawMessage) {})
	require.NoError(t, err)
	other, err := reg.Register("bob", func(json.RawMessage) {})
	require.NoError(t, err)

	reg.Unregister("alice", other)
	reg.Unregister("carol", h)
	assert.Equal(t, 1, reg.Listeners("alice"))
	assert.Equal(t, 1, reg.Listeners("bob"))

	reg.Unregister("alice", h)
	reg.Unregister("alice", h)
	assertConsistent(t, reg, net, "alice")
	assertConsistent(t, reg, net, "bob")
}

func TestRegistry_AddPublisherIsIdempotent(t *testing.T) {
	reg, net := newTestRegistry(t)
	_, err := reg.Register("alice", func(json.RawMessage) {})
	require.NoError(t, err)

	require.NoError(t, reg.AddPublisher("pub-1"))
	require.NoError(t, reg.AddPublisher("pub-1"))

	assert.Equal(t, []string{"pub-1"}, reg.Publishers())
	assert.Equal(t, 1, net.Subscribers("pub-1", "notifications.alice"))
}

func TestRegistry_LatePublisherCatchesUp(t *testing.T) {
	reg, net := newTestRegistry(t)
	require.NoError(t, reg.AddPublisher("pub-1"))

	rec := &recorder{}
	_, err := reg.Register("alice", rec.callback)
	require.NoError(t, err)
	_, err = reg.Register("bob", func(json.RawMessage) {})
	require.NoError(t, err)

	require.NoError(t, reg.AddPublisher("pub-2"))
	assert.Equal(t, []string{"notifications.alice", "notifications.bob"}, net.Subjects("pub-2"))

	net.Publish("pub-2", "notifications.alice", []byte(`alice|{"from":"pub-2"}`))
	assert.Equal(t, []string{`{"from":"pub-2"}`}, rec.got)
}

func TestRegistry_AddPublisherDialFailure(t *testing.T) {
	reg, net := newTestRegistry(t)
	net.Fail("bad", errors.New("refused"))

	err := reg.AddPublisher("bad")
	assert.Error(t, err)
	assert.Empty(t, reg.Publishers())

	// a later discovery of the same address can still succeed
	net.Fail("bad", nil)
	require.NoError(t, reg.AddPublisher("bad"))
	assert.Equal(t, []string{"bad"}, reg.Publishers())
}

func TestRegistry_RouteFansOutInOrder(t *testing.T) {
	reg, net := newTestRegistry(t)
	require.NoError(t, reg.AddPublisher("pub-1"))

	var order []string
	_, err := reg.Register("alice", func(p json.RawMessage) { order = append(order, "first:"+string(p)) })
	require.NoError(t, err)
	_, err = reg.Register("alice", func(p json.RawMessage) { order = append(order, "second:"+string(p)) })
	require.NoError(t, err)

	net.Publish("pub-1", "notifications.alice", []byte(`alice|{"x":1}`))
	assert.Equal(t, []string{`first:{"x":1}`, `second:{"x":1}`}, order)
}

func TestRegistry_RouteDecodesPayload(t *testing.T) {
	reg, _ := newTestRegistry(t)

	var got map[string]int
	_, err := reg.Register("alice", func(p json.RawMessage) { require.NoError(t, json.Unmarshal(p, &got)) })
	require.NoError(t, err)

	reg.Route([]byte(`alice|{"x":1}`))
	assert.Equal(t, map[string]int{"x": 1}, got)
}

func TestRegistry_RouteDropsUnknownAndMalformed(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec := &recorder{}
	_, err := reg.Register("alice", rec.callback)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		reg.Route([]byte(`bob|{"x":1}`))
		reg.Route([]byte("noseparator"))
		reg.Route([]byte(`|{"x":1}`))
		reg.Route([]byte(`alice|not json`))
		reg.Route(nil)
	})
	assert.Empty(t, rec.got)
}

func TestRegistry_RouteWithoutRegistrations(t *testing.T) {
	reg, _ := newTestRegistry(t)
	assert.NotPanics(t, func() { reg.Route([]byte(`alice|{"x":1}`)) })
}

func TestRegistry_CallbackMayUnregister(t *testing.T) {
	reg, net := newTestRegistry(t)
	require.NoError(t, reg.AddPublisher("pub-1"))

	calls := 0
	var h *Registration
	h, err := reg.Register("alice", func(json.RawMessage) {
		calls++
		reg.Unregister("alice", h)
	})
	require.NoError(t, err)

	net.Publish("pub-1", "notifications.alice", []byte(`alice|1`))
	net.Publish("pub-1", "notifications.alice", []byte(`alice|2`))
	assert.Equal(t, 1, calls)
	assertConsistent(t, reg, net, "alice")
}

func TestRegistry_RejectsInvalidRecipient(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Register("a.b", func(json.RawMessage) {})
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	_, err = reg.Register("", func(json.RawMessage) {})
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	_, err = reg.Register("alice", nil)
	assert.Error(t, err)
	assert.Empty(t, reg.Recipients())
}

func TestRegistry_EmptySubjectPrefix(t *testing.T) {
	net := messaging.NewMemoryNetwork()
	reg := NewRegistry(net.Dial, WithSubjectPrefix(""), WithLogger(logging.NewNopLogger()))
	defer reg.Close()

	require.NoError(t, reg.AddPublisher("pub-1"))
	_, err := reg.Register("u42", func(json.RawMessage) {})
	require.NoError(t, err)
	assert.Equal(t, []string{"u42"}, net.Subjects("pub-1"))
}

func TestRegistry_Close(t *testing.T) {
	net := messaging.NewMemoryNetwork()
	reg := NewRegistry(net.Dial, WithLogger(logging.NewNopLogger()))
	require.NoError(t, reg.AddPublisher("pub-1"))
	_, err := reg.Register("alice", func(json.RawMessage) {})
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())
	assert.Empty(t, net.Subjects("pub-1"))
	assert.ErrorIs(t, reg.AddPublisher("pub-2"), ErrRegistryClosed)
	_, err = reg.Register("bob", func(json.RawMessage) {})
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// fakeBus records active subscriptions. Subscribe blocks until release is
// closed when gated is set.
type fakeBus struct {
	gated   bool
	entered chan string
	release chan struct{}

	mu      sync.Mutex
	active  map[string]int
	direct  int
	queued  int
	flushes int
}

func newFakeBus(gated bool) *fakeBus {
	return &fakeBus{
		gated:   gated,
		entered: make(chan string, 16),
		release: make(chan struct{}),
		active:  map[string]int{},
	}
}

func (b *fakeBus) add(subject string) io.Closer {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active[subject]++
	var once sync.Once
	return closeFunc(func() error {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.active[subject]--; b.active[subject] == 0 {
				delete(b.active, subject)
			}
		})
		return nil
	})
}

func (b *fakeBus) Publish(string, []byte) error { return nil }

func (b *fakeBus) Subscribe(subject string, _ func([]byte)) (io.Closer, error) {
	if b.gated {
		b.entered <- subject
		<-b.release
	}
	b.mu.Lock()
	b.direct++
	b.mu.Unlock()
	return b.add(subject), nil
}

func (b *fakeBus) Request(ctx context.Context, _ string, _ []byte) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) subjects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []string{}
	for subject := range b.active {
		out = append(out, subject)
	}
	sort.Strings(out)
	return out
}

// batchingBus additionally implements messaging.Batcher.
type batchingBus struct{ *fakeBus }

func (b batchingBus) SubscribeAsync(subject string, _ func([]byte)) (io.Closer, error) {
	b.mu.Lock()
	b.queued++
	b.mu.Unlock()
	return b.add(subject), nil
}

func (b batchingBus) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
	return nil
}

func TestRegistry_SlowPublisherDoesNotStallRouting(t *testing.T) {
	net := messaging.NewMemoryNetwork()
	slow := newFakeBus(true)
	reg := NewRegistry(func(addr string) (messaging.Bus, error) {
		if addr == "slow" {
			return slow, nil
		}
		return net.Dial(addr)
	}, WithLogger(logging.NewNopLogger()))
	defer reg.Close()
	require.NoError(t, reg.AddPublisher("pub-1"))

	delivered := make(chan string, 1)
	_, err := reg.Register("alice", func(p json.RawMessage) { delivered <- string(p) })
	require.NoError(t, err)
	bob, err := reg.Register("bob", func(json.RawMessage) {})
	require.NoError(t, err)
	_, err = reg.Register("carol", func(json.RawMessage) {})
	require.NoError(t, err)

	added := make(chan error, 1)
	go func() { added <- reg.AddPublisher("slow") }()
	select {
	case subject := <-slow.entered:
		assert.Equal(t, "notifications.alice", subject)
	case <-time.After(2 * time.Second):
		t.Fatal("catch-up never reached the slow publisher")
	}

	// the healthy publisher keeps delivering while the slow one is stuck
	routed := make(chan struct{})
	go func() {
		net.Publish("pub-1", "notifications.alice", []byte(`alice|{"x":1}`))
		close(routed)
	}()
	select {
	case <-routed:
	case <-time.After(time.Second):
		t.Fatal("routing blocked behind slow publisher")
	}
	assert.Equal(t, `{"x":1}`, <-delivered)
	assert.Equal(t, []string{"pub-1", "slow"}, reg.Publishers())

	// bob leaves before catch-up reaches him
	unregistered := make(chan struct{})
	go func() {
		reg.Unregister("bob", bob)
		close(unregistered)
	}()
	require.Eventually(t, func() bool { return reg.Listeners("bob") == 0 }, time.Second, 5*time.Millisecond)

	close(slow.release)
	require.NoError(t, <-added)
	select {
	case <-unregistered:
	case <-time.After(2 * time.Second):
		t.Fatal("unregister did not complete")
	}

	assert.Equal(t, []string{"notifications.alice", "notifications.carol"}, slow.subjects())
	assert.True(t, reg.Subscribed("slow", "alice"))
	assert.False(t, reg.Subscribed("slow", "bob"))
	assert.False(t, reg.Subscribed("pub-1", "bob"))
}

func TestRegistry_CatchUpFlushesOncePerPublisher(t *testing.T) {
	bus := batchingBus{newFakeBus(false)}
	reg := NewRegistry(func(string) (messaging.Bus, error) { return bus, nil },
		WithLogger(logging.NewNopLogger()))
	defer reg.Close()

	for _, recipient := range []string{"alice", "bob", "carol"} {
		_, err := reg.Register(recipient, func(json.RawMessage) {})
		require.NoError(t, err)
	}
	require.NoError(t, reg.AddPublisher("batch"))

	assert.Equal(t, 3, bus.queued)
	assert.Equal(t, 0, bus.direct)
	assert.Equal(t, 1, bus.flushes)
	assert.Len(t, bus.subjects(), 3)

	// later registrations subscribe and wait individually
	_, err := reg.Register("dave", func(json.RawMessage) {})
	require.NoError(t, err)
	assert.Equal(t, 1, bus.direct)
	assert.Equal(t, 1, bus.flushes)
}

type gaugeRecorder struct {
	metrics.Noop
	mu     sync.Mutex
	gauges map[string]float64
}

func (g *gaugeRecorder) SetGauge(name string, value float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gauges[name] = value
}

func (g *gaugeRecorder) gauge(name string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gauges[name]
}

func TestRegistry_CloseResetsGauges(t *testing.T) {
	net := messaging.NewMemoryNetwork()
	rec := &gaugeRecorder{gauges: map[string]float64{}}
	reg := NewRegistry(net.Dial, WithLogger(logging.NewNopLogger()), WithMetrics(rec))

	require.NoError(t, reg.AddPublisher("pub-1"))
	require.NoError(t, reg.AddPublisher("pub-2"))
	_, err := reg.Register("alice", func(json.RawMessage) {})
	require.NoError(t, err)
	assert.Equal(t, 2.0, rec.gauge(metrics.Publishers))
	assert.Equal(t, 1.0, rec.gauge(metrics.Recipients))

	require.NoError(t, reg.Close())
	assert.Equal(t, 0.0, rec.gauge(metrics.Publishers))
	assert.Equal(t, 0.0, rec.gauge(metrics.Recipients))
}
