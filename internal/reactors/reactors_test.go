package reactors

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Meshflow/internal/core/network"
	"Meshflow/internal/mesh"
	"Meshflow/internal/node"
)

type sink struct {
	mu   sync.Mutex
	msgs []*mesh.Message
}

func (s *sink) publish(_ string, msg *mesh.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *sink) on(channel string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.msgs {
		if m.Channel == channel {
			out = append(out, m.Payload)
		}
	}
	return out
}

func wire(t *testing.T, name string) (*mesh.Registry, *sink) {
	t.Helper()
	r, err := New(name, Deps{})
	require.NoError(t, err)
	inputs, s := mesh.NewRegistry(), &sink{}
	require.NoError(t, mesh.Attach(inputs, mesh.NewRegistry(), r, s.publish))
	return inputs, s
}

func deliver(t *testing.T, reg *mesh.Registry, channel, payload string) {
	t.Helper()
	ch, ok := reg.Lookup(channel)
	require.True(t, ok, channel)
	ch.Publish(&mesh.Message{Channel: channel, Payload: payload, Service: "peer"})
}

func TestCalcService(t *testing.T) {
	in, out := wire(t, "Calc")
	deliver(t, in, "Calc.Add.a", "3")
	deliver(t, in, "Calc.Add.b", "4")
	deliver(t, in, "Calc.Mul.a", "6")
	deliver(t, in, "Calc.Mul.b", "7")
	assert.Equal(t, []string{"7"}, out.on("Calc.Add.return"))
	assert.Equal(t, []string{"42"}, out.on("Calc.Mul.return"))
}

func TestStatsService(t *testing.T) {
	in, out := wire(t, "Stats")
	deliver(t, in, "Stats.MeanStd.values", "[2,4,4,4,5,5,7,9]")
	assert.Equal(t, []string{"5"}, out.on("Stats.MeanStd.mean"))
	assert.Equal(t, []string{"2"}, out.on("Stats.MeanStd.stdev"))

	deliver(t, in, "Stats.MeanStd.values", "[]")
	assert.Len(t, out.on("Stats.MeanStd.stdev"), 1)
}

func TestMeanStdDirect(t *testing.T) {
	var mean float64
	sd, err := Stats{}.MeanStd(context.Background(), []float64{1, 3}, &mean)
	require.NoError(t, err)
	assert.Equal(t, 2.0, mean)
	assert.InDelta(t, 1.0, sd, 1e-12)

	_, err = Stats{}.MeanStd(context.Background(), nil, &mean)
	assert.ErrorIs(t, err, ErrNoValues)
	assert.Equal(t, 2.0, mean)
}

func TestPriceBoardUpdatesAndRequests(t *testing.T) {
	in, out := wire(t, PriceBoardName)
	deliver(t, in, PriceBoardUpdate, `{"ticker":"MSFT","price":410.5}`)
	deliver(t, in, PriceBoardUpdate, `{"ticker":"AAPL","price":190}`)
	deliver(t, in, PriceBoardUpdate, `{"ticker":"","price":1}`)

	boards := out.on(PriceBoardBoard)
	require.Len(t, boards, 2)
	assert.JSONEq(t, `[{"ticker":"AAPL","price":190},{"ticker":"MSFT","price":410.5}]`, boards[1])

	deliver(t, in, PriceBoardRequest, `["MSFT","IBM"]`)
	out.mu.Lock()
	last := out.msgs[len(out.msgs)-1]
	out.mu.Unlock()
	assert.JSONEq(t, `[{"ticker":"MSFT","price":410.5}]`, last.Payload)
	assert.Equal(t, []string{"peer"}, last.Routes)
}

func TestPriceBoardCatchUpAcrossNodes(t *testing.T) {
	bus := network.NewMemoryPubSub(nil)
	cfg := node.Config{AnnounceInterval: 20 * time.Millisecond, PeerTTL: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pb, err := NewPriceBoard(nil)
	require.NoError(t, err)
	cfg.ID = "board"
	server := node.New(bus, cfg)
	require.NoError(t, server.Attach(pb))
	require.NoError(t, server.Start(ctx))
	require.NoError(t, server.Inject(PriceBoardUpdate, `{"ticker":"NVDA","price":120}`))

	view, err := mesh.NewObservable[[]Quote](PriceBoardBoard)
	require.NoError(t, err)
	var (
		mu  sync.Mutex
		got [][]Quote
	)
	view.Subscribe(func(q []Quote) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, q)
		return nil
	})
	cfg.ID = "viewer"
	client := node.New(bus, cfg)
	require.NoError(t, client.Attach(mesh.NewReactor("Viewer", view)))
	require.NoError(t, client.Start(ctx))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, got, "viewer never received the board")
	assert.Equal(t, []Quote{{Ticker: "NVDA", Price: 120}}, got[0])
}

func TestUnknownService(t *testing.T) {
	_, err := New("Nope", Deps{})
	assert.ErrorIs(t, err, ErrUnknownService)
	assert.Equal(t, []string{"Calc", PriceBoardName, "Stats"}, Names())
}
