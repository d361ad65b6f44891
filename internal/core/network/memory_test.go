package network

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return Message{}
}

func TestMemoryPubSubFanOut(t *testing.T) {
	bus := NewMemoryPubSub(nil)
	a, cancelA, err := bus.Subscribe("mesh.Calc.Add.a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelA()
	b, cancelB, err := bus.Subscribe("mesh.Calc.Add.a")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancelB()

	payload := []byte{1, 2, 3}
	if err := bus.Publish("mesh.Calc.Add.a", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}
	payload[0] = 9

	for _, ch := range []<-chan Message{a, b} {
		msg := recv(t, ch)
		if msg.Topic != "mesh.Calc.Add.a" || msg.Payload[0] != 1 {
			t.Fatalf("unexpected frame %+v", msg)
		}
	}
}

func TestMemoryPubSubCancelClosesChannel(t *testing.T) {
	bus := NewMemoryPubSub(nil)
	ch, cancel, err := bus.Subscribe("t")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if got := len(bus.Topics()); got != 0 {
		t.Fatalf("topics = %d, want 0", got)
	}
	if err := bus.Publish("t", []byte("x")); err != nil {
		t.Fatalf("publish with no subscribers: %v", err)
	}
}

func TestMemoryPubSubDropsWhenFull(t *testing.T) {
	bus := NewMemoryPubSub(nil)
	ch, cancel, err := bus.Subscribe("t")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	for i := 0; i < subscriberBuffer+10; i++ {
		if err := bus.Publish("t", []byte{byte(i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("buffered = %d, want %d", got, subscriberBuffer)
	}
}

func TestMemoryPubSubClose(t *testing.T) {
	bus := NewMemoryPubSub(nil)
	ch, cancel, err := bus.Subscribe("t")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if err := bus.Publish("t", nil); err != ErrClosed {
		t.Fatalf("publish after close = %v, want ErrClosed", err)
	}
	if _, _, err := bus.Subscribe("t"); err != ErrClosed {
		t.Fatalf("subscribe after close = %v, want ErrClosed", err)
	}
}
