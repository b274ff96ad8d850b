package inmemory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/next-trace/scg-mediator/adapters/inmemory"
	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

func connected(t *testing.T, b *inmemory.Broker) *inmemory.Transport {
	t.Helper()

	tr := inmemory.New(b)
	if err := tr.Connect(t.Context()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	t.Cleanup(func() { _ = tr.Close(context.Background()) })

	return tr
}

func receive(t *testing.T, ch <-chan cmed.Delivery) cmed.Delivery {
	t.Helper()

	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatalf("delivery channel closed")
		}

		return d
	case <-time.After(time.Second):
		t.Fatalf("no delivery")
	}

	return cmed.Delivery{}
}

func TestInmemory_NotConnected(t *testing.T) {
	tr := inmemory.New(inmemory.NewBroker())

	err := tr.Publish(t.Context(), "c", cmed.Message{})
	if !errors.Is(err, merr.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}

	if _, err := tr.Subscribe(t.Context(), "c", cmed.SubscribeOptions{}); !errors.Is(err, merr.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}

	if err := inmemory.New(nil).Connect(t.Context()); !errors.Is(err, merr.ErrConnectFailed) {
		t.Fatalf("want ErrConnectFailed, got %v", err)
	}
}

func TestInmemory_PropertiesTravelOutsideBody(t *testing.T) {
	b := inmemory.NewBroker()
	tr := connected(t, b)

	ch, err := tr.Subscribe(t.Context(), "requests", cmed.SubscribeOptions{Group: "requests"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	headers := map[string]string{"traceparent": "x"}
	m := cmed.Message{Body: []byte(`{}`), CorrelationID: "c1", ReplyTo: "replies", Headers: headers}

	if err := tr.Publish(t.Context(), "requests", m); err != nil {
		t.Fatalf("publish: %v", err)
	}

	headers["traceparent"] = "mutated"

	d := receive(t, ch)
	if d.CorrelationID != "c1" || d.ReplyTo != "replies" || string(d.Body) != `{}` {
		t.Fatalf("unexpected message: %+v", d.Message)
	}

	if d.Headers["traceparent"] != "x" {
		t.Fatalf("headers must be copied on publish")
	}
}

func TestInmemory_GroupsCompeteChannelsFanOut(t *testing.T) {
	b := inmemory.NewBroker()
	a := connected(t, b)
	c := connected(t, b)

	g1, _ := a.Subscribe(t.Context(), "signals", cmed.SubscribeOptions{Group: "billing"})
	g2, _ := c.Subscribe(t.Context(), "signals", cmed.SubscribeOptions{Group: "billing"})
	other, _ := c.Subscribe(t.Context(), "signals", cmed.SubscribeOptions{Group: "audit"})

	if err := a.Publish(t.Context(), "signals", cmed.Message{Body: []byte("1")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	receive(t, other)

	select {
	case <-g1:
	case <-g2:
	case <-time.After(time.Second):
		t.Fatalf("billing group received nothing")
	}

	select {
	case <-g1:
		t.Fatalf("message delivered twice within a group")
	case <-g2:
		t.Fatalf("message delivered twice within a group")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInmemory_NackRequeues(t *testing.T) {
	b := inmemory.NewBroker()
	tr := connected(t, b)

	ch, _ := tr.Subscribe(t.Context(), "q", cmed.SubscribeOptions{Group: "q"})

	_ = tr.Publish(t.Context(), "q", cmed.Message{Body: []byte("x"), CorrelationID: "1"})

	first := receive(t, ch)
	if err := first.Nack(t.Context(), true); err != nil {
		t.Fatalf("nack: %v", err)
	}

	again := receive(t, ch)
	if again.CorrelationID != "1" {
		t.Fatalf("want redelivery, got %+v", again.Message)
	}

	if err := again.Ack(t.Context()); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestInmemory_GroupQueueRetainsMessages(t *testing.T) {
	b := inmemory.NewBroker()
	tr := connected(t, b)

	ctx, cancel := context.WithCancel(t.Context())

	ch, _ := tr.Subscribe(ctx, "jobs", cmed.SubscribeOptions{Group: "workers"})
	cancel()

	for range ch {
	}

	_ = tr.Publish(t.Context(), "jobs", cmed.Message{Body: []byte("1")})

	if n := b.Depth("jobs", "workers"); n != 1 {
		t.Fatalf("want 1 retained message, got %d", n)
	}

	ch, _ = tr.Subscribe(t.Context(), "jobs", cmed.SubscribeOptions{Group: "workers"})
	receive(t, ch)
}

func TestInmemory_CloseEndsSubscriptions(t *testing.T) {
	b := inmemory.NewBroker()
	tr := inmemory.New(b)
	_ = tr.Connect(t.Context())

	ch, _ := tr.Subscribe(t.Context(), "c", cmed.SubscribeOptions{Exclusive: true})

	if err := tr.Close(t.Context()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, ok := <-ch; ok {
		t.Fatalf("channel must be closed")
	}

	if err := tr.Publish(t.Context(), "c", cmed.Message{}); !errors.Is(err, merr.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected after close, got %v", err)
	}
}

func TestInmemory_ConcurrentPublish(t *testing.T) {
	b := inmemory.NewBroker()
	tr := connected(t, b)

	ch, _ := tr.Subscribe(t.Context(), "c", cmed.SubscribeOptions{Group: "g"})

	const n = 100

	var wg sync.WaitGroup
	for range n {
		wg.Go(func() {
			_ = tr.Publish(t.Context(), "c", cmed.Message{Body: []byte("x")})
		})
	}

	wg.Wait()

	for range n {
		receive(t, ch)
	}
}
