package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Meshflow/internal/core/mesherr"
	"Meshflow/internal/core/network"
	"Meshflow/internal/mesh"
	"Meshflow/internal/transform"
	"Meshflow/internal/wireup"
)

var fastDiscovery = Config{AnnounceInterval: 20 * time.Millisecond, PeerTTL: 150 * time.Millisecond}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func start(t *testing.T, n *Node) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, n.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = n.Wait()
	})
	return cancel
}

type recorder[T any] struct {
	mu     sync.Mutex
	values []T
	from   []string
}

func (r *recorder[T]) add(v T, msg *mesh.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
	r.from = append(r.from, msg.Service)
	return nil
}

func (r *recorder[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

type Calc struct{}

func (Calc) TransformSignatures() map[string]transform.Signature {
	return map[string]transform.Signature{"Add": {Params: []string{"a", "b"}}}
}

func (Calc) Add(a, b int) int { return a + b }

func TestCalcAcrossNodes(t *testing.T) {
	bus := network.NewMemoryPubSub(nil)

	engine, err := wireup.New(Calc{})
	require.NoError(t, err)
	server := New(bus, Config{ID: "server", Compress: true})
	require.NoError(t, server.Attach(engine))

	a, err := mesh.NewObserver[int]("Calc.Add.a")
	require.NoError(t, err)
	b, err := mesh.NewObserver[int]("Calc.Add.b")
	require.NoError(t, err)
	sum, err := mesh.NewObservable[int]("Calc.Add.return")
	require.NoError(t, err)
	var got recorder[int]
	sum.SubscribeEnvelope(got.add)

	client := New(bus, Config{ID: "client"})
	require.NoError(t, client.Attach(mesh.NewReactor("CalcClient", a, b, sum)))

	start(t, server)
	start(t, client)

	require.NoError(t, a.OnNext(3))
	require.NoError(t, b.OnNext(4))
	eventually(t, "first sum", func() bool { return len(got.snapshot()) == 1 })
	assert.Equal(t, []int{7}, got.snapshot())

	require.NoError(t, b.OnNext(5))
	eventually(t, "second sum", func() bool { return len(got.snapshot()) == 2 })
	assert.Equal(t, []int{7, 8}, got.snapshot())
	assert.Equal(t, "server", got.from[0])

	assert.Len(t, server.Transforms(), 1)
	assert.Equal(t, []string{"Calc"}, server.Info().Reactors)
}

func TestRoutesNarrowDelivery(t *testing.T) {
	bus := network.NewMemoryPubSub(nil)
	in, err := mesh.NewObservable[string]("greeting")
	require.NoError(t, err)
	var got recorder[string]
	in.SubscribeEnvelope(got.add)

	receiver := New(bus, Config{ID: "receiver"})
	require.NoError(t, receiver.Attach(mesh.NewReactor("Greeter", in)))
	sender := New(bus, Config{ID: "sender"})
	start(t, receiver)

	require.NoError(t, sender.Send("greeting", `"not for you"`, "someone-else"))
	require.NoError(t, sender.Send("greeting", `"hello"`, "receiver"))
	require.NoError(t, sender.Send("greeting", `"everyone"`))
	eventually(t, "deliveries", func() bool { return len(got.snapshot()) == 2 })
	assert.Equal(t, []string{"hello", "everyone"}, got.snapshot())
}

func TestCatchUpOnDiscovery(t *testing.T) {
	bus := network.NewMemoryPubSub(nil)

	quotes, err := mesh.NewObserver[float64]("Prices.quote")
	require.NoError(t, err)
	quotes.SetOnConnect(func(peer string) {
		_ = quotes.OnNextTo(42.5, peer)
	})
	publisher := New(bus, Config{
		ID:               "publisher",
		AnnounceInterval: fastDiscovery.AnnounceInterval,
		PeerTTL:          fastDiscovery.PeerTTL,
	})
	require.NoError(t, publisher.Attach(mesh.NewReactor("Prices", quotes)))
	start(t, publisher)

	subscribe := func(id string) *recorder[float64] {
		in, err := mesh.NewObservable[float64]("Prices.quote")
		require.NoError(t, err)
		rec := &recorder[float64]{}
		in.SubscribeEnvelope(rec.add)
		cfg := fastDiscovery
		cfg.ID = id
		n := New(bus, cfg)
		require.NoError(t, n.Attach(mesh.NewReactor("Board", in)))
		start(t, n)
		return rec
	}
	first := subscribe("first")
	second := subscribe("second")

	eventually(t, "catch-up", func() bool {
		return len(first.snapshot()) == 1 && len(second.snapshot()) == 1
	})
	time.Sleep(5 * fastDiscovery.AnnounceInterval)
	assert.Equal(t, []float64{42.5}, first.snapshot())
	assert.Equal(t, []float64{42.5}, second.snapshot())

	peers := publisher.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "first", peers[0].ID)
	assert.Equal(t, []string{"Prices.quote"}, peers[0].Matched)
}

func TestPeerExpiryAndReturn(t *testing.T) {
	bus := network.NewMemoryPubSub(nil)

	var mu sync.Mutex
	joins := map[string]int{}
	out, err := mesh.NewObserver[int]("ticks")
	require.NoError(t, err)
	out.SetOnConnect(func(peer string) {
		mu.Lock()
		defer mu.Unlock()
		joins[peer]++
	})
	cfg := fastDiscovery
	cfg.ID = "hub"
	hub := New(bus, cfg)
	require.NoError(t, hub.Attach(mesh.NewReactor("Ticker", out)))
	start(t, hub)

	join := func() context.CancelFunc {
		in, err := mesh.NewObservable[int]("ticks")
		require.NoError(t, err)
		c := fastDiscovery
		c.ID = "spoke"
		n := New(bus, c)
		require.NoError(t, n.Attach(mesh.NewReactor("Sink", in)))
		return start(t, n)
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return joins["spoke"]
	}

	stop := join()
	eventually(t, "first join", func() bool { return count() == 1 })
	stop()
	eventually(t, "expiry", func() bool { return len(hub.Peers()) == 0 })

	join()
	eventually(t, "second join", func() bool { return count() == 2 })
}

func TestAttachAfterStartSubscribes(t *testing.T) {
	bus := network.NewMemoryPubSub(nil)
	n := New(bus, Config{ID: "late"})
	start(t, n)

	in, err := mesh.NewObservable[int]("late.input")
	require.NoError(t, err)
	var got recorder[int]
	in.SubscribeEnvelope(got.add)
	require.NoError(t, n.Attach(mesh.NewReactor("Late", in)))

	require.NoError(t, New(bus, Config{ID: "other"}).Send("late.input", "9"))
	eventually(t, "late delivery", func() bool { return len(got.snapshot()) == 1 })
}

func TestBadFramesReachErrorHook(t *testing.T) {
	bus := network.NewMemoryPubSub(nil)
	errs := make(chan error, 4)
	in, err := mesh.NewObservable[int]("x")
	require.NoError(t, err)
	n := New(bus, Config{ID: "n"}, WithErrorHook(func(err error) { errs <- err }))
	require.NoError(t, n.Attach(mesh.NewReactor("X", in)))
	start(t, n)

	require.NoError(t, bus.Publish(n.Topic("x"), []byte{0x07}))
	select {
	case err := <-errs:
		assert.True(t, mesherr.IsDecode(err))
		assert.ErrorContains(t, err, "channel x")
	case <-time.After(time.Second):
		t.Fatal("expected decode error")
	}
}

func TestStartTwiceAndWaitBeforeStart(t *testing.T) {
	n := New(network.NewMemoryPubSub(nil), Config{})
	assert.NotEmpty(t, n.ID())
	assert.ErrorIs(t, n.Wait(), ErrNotStarted)
	start(t, n)
	assert.ErrorIs(t, n.Start(context.Background()), ErrStarted)
}

// flakyBus fails the first subscription to one topic.
type flakyBus struct {
	*network.MemoryPubSub
	topic  string
	failed bool
}

func (b *flakyBus) Subscribe(topic string) (<-chan network.Message, func(), error) {
	if topic == b.topic && !b.failed {
		b.failed = true
		return nil, nil, errors.New("subscribe refused")
	}
	return b.MemoryPubSub.Subscribe(topic)
}

func TestFailedStartCanBeRetried(t *testing.T) {
	bus := &flakyBus{MemoryPubSub: network.NewMemoryPubSub(nil), topic: "mesh.discovery"}
	engine, err := wireup.New(Calc{})
	require.NoError(t, err)
	n := New(bus, Config{ID: "n"})
	require.NoError(t, n.Attach(engine))

	err = n.Start(context.Background())
	require.Error(t, err)
	assert.True(t, mesherr.IsTransport(err))
	assert.False(t, n.Info().Started)
	assert.Empty(t, bus.Topics())
	assert.ErrorIs(t, n.Wait(), ErrNotStarted)

	start(t, n)
	assert.True(t, n.Info().Started)
	assert.Contains(t, bus.Topics(), "mesh.Calc.Add.a")
}

func TestRejectedAttachLeavesNoChannels(t *testing.T) {
	n := New(network.NewMemoryPubSub(nil), Config{ID: "n"})
	_, _, err := n.Inputs().GetOrCreate("Calc.Add.b", "string")
	require.NoError(t, err)

	engine, err := wireup.New(Calc{})
	require.NoError(t, err)
	err = n.Attach(engine)
	require.ErrorIs(t, err, mesh.ErrConflictingType)

	_, bound := n.Inputs().Lookup("Calc.Add.a")
	assert.False(t, bound)
	_, bound = n.Outputs().Lookup("Calc.Add.return")
	assert.False(t, bound)
	assert.Empty(t, n.Info().Reactors)
	require.ErrorIs(t, n.Inject("Calc.Add.a", "3"), ErrChannelNotFound)
}

// dialableBus reports addresses the way a networked transport does.
type dialableBus struct {
	*network.MemoryPubSub
}

func (dialableBus) ListenAddrs() []string {
	return []string{"/ip4/127.0.0.1/tcp/4001/p2p/QmSelf"}
}

func (dialableBus) ConnectedPeers() []string { return []string{"QmOther"} }

func TestInfoReportsTransportAddresses(t *testing.T) {
	n := New(dialableBus{network.NewMemoryPubSub(nil)}, Config{ID: "n"})
	info := n.Info()
	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/4001/p2p/QmSelf"}, info.ListenAddrs)
	assert.Equal(t, []string{"QmOther"}, info.TransportPeers)

	plain := New(network.NewMemoryPubSub(nil), Config{ID: "m"}).Info()
	assert.Nil(t, plain.ListenAddrs)
	assert.Nil(t, plain.TransportPeers)
}

func TestChannelsListing(t *testing.T) {
	engine, err := wireup.New(Calc{})
	require.NoError(t, err)
	n := New(network.NewMemoryPubSub(nil), Config{ID: "n", TopicPrefix: "t."})
	require.NoError(t, n.Attach(engine))

	chans := n.Channels()
	require.Len(t, chans, 3)
	assert.Equal(t, ChannelInfo{Name: "Calc.Add.a", Direction: DirectionInput, Type: "int", Topic: "t.Calc.Add.a", Subscribers: 1}, chans[0])
	assert.Equal(t, DirectionOutput, chans[2].Direction)
	assert.Equal(t, 1, chans[2].Publishers)
}

func TestInjectAndWatchLocalInput(t *testing.T) {
	in, err := mesh.NewObservable[int]("x")
	require.NoError(t, err)
	var got recorder[int]
	in.SubscribeEnvelope(got.add)
	n := New(network.NewMemoryPubSub(nil), Config{ID: "n"})
	require.NoError(t, n.Attach(mesh.NewReactor("X", in)))

	stream, cancel, err := n.Watch("x")
	require.NoError(t, err)
	require.NoError(t, n.Inject("x", "5"))
	assert.Equal(t, []int{5}, got.snapshot())

	msg := <-stream
	assert.Equal(t, "5", msg.Payload)
	assert.Equal(t, "n", msg.Service)
	cancel()
	cancel()
	_, open := <-stream
	assert.False(t, open)

	err = n.Inject("missing", "1")
	assert.ErrorIs(t, err, ErrChannelNotFound)
	_, _, err = n.Watch("missing")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}
