package mediator_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/next-trace/scg-mediator/adapters/inmemory"
	merr "github.com/next-trace/scg-mediator/contract/errors"
	cmed "github.com/next-trace/scg-mediator/contract/mediator"
	"github.com/next-trace/scg-mediator/mediator"
	"github.com/next-trace/scg-mediator/service"
)

// fakes

type flakyTransport struct {
	*inmemory.Transport

	failures atomic.Int32
}

func (f *flakyTransport) Publish(ctx context.Context, channel string, m cmed.Message) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("broker unavailable")
	}

	return f.Transport.Publish(ctx, channel, m)
}

type downTransport struct {
	*inmemory.Transport

	err error
}

func (d downTransport) Connect(context.Context) error { return d.err }

func start(t *testing.T, m cmed.Mediator) {
	t.Helper()

	if err := m.Init(t.Context()); err != nil {
		t.Fatalf("init: %v", err)
	}

	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
}

// pair starts a serving instance and a client-only instance sharing one broker.
func pair(t *testing.T, clientOpts ...mediator.Option) (*mediator.Broker, *mediator.Broker) {
	t.Helper()

	b := inmemory.NewBroker()

	server := mediator.NewBroker(inmemory.New(b), mediator.WithServices(newRegistry(t)))
	start(t, server)

	client := mediator.NewBroker(inmemory.New(b), clientOpts...)
	start(t, client)

	return client, server
}

func TestBroker_RoundTrip(t *testing.T) {
	client, _ := pair(t)

	resp := client.Send(t.Context(), "math.square", 2)
	if !resp.IsSuccess() {
		t.Fatalf("square: %+v", resp)
	}

	raw, ok := resp.Payload.(json.RawMessage)
	if !ok || string(raw) != "4" {
		t.Fatalf("payload: %#v", resp.Payload)
	}

	if got := mediator.Send[int](t.Context(), client, "geo.sum", point{X: 2, Y: 3}); got.Payload != 5 {
		t.Fatalf("typed: %+v", got)
	}

	if client.PendingCalls() != 0 {
		t.Fatalf("pending calls leaked: %d", client.PendingCalls())
	}
}

func TestBroker_ReceiverCodes(t *testing.T) {
	client, _ := pair(t)

	tests := []struct {
		name    string
		pattern string
		message any
		code    string
	}{
		{"empty pattern", "", 1, merr.InvalidPattern},
		{"unknown pattern", "math.cube", 1, merr.ServiceNotFound},
		{"null request", "math.square", nil, merr.NullRequest},
		{"wrong type", "math.square", "two", merr.InvalidRequestType},
		{"panicking service", "boom", 1, merr.InvalidServiceExecution},
	}

	for _, tc := range tests {
		if got := client.Send(t.Context(), tc.pattern, tc.message); got.Error != tc.code {
			t.Fatalf("%s: code %q, want %q", tc.name, got.Error, tc.code)
		}
	}

	if got := mediator.Send[point](t.Context(), client, "geo.origin", nil); !got.IsSuccess() || got.Payload != (point{}) {
		t.Fatalf("null allowed: %+v", got)
	}
}

func TestBroker_SelfServing(t *testing.T) {
	m := mediator.NewBroker(inmemory.New(inmemory.NewBroker()), mediator.WithServices(newRegistry(t)))
	start(t, m)

	if got := mediator.Send[int](t.Context(), m, "math.square", 7); got.Payload != 49 {
		t.Fatalf("self: %+v", got)
	}
}

func TestBroker_TimeoutLeavesNoPendingCall(t *testing.T) {
	m := mediator.NewBroker(inmemory.New(inmemory.NewBroker()), mediator.WithResponseTimeout(30*time.Millisecond))
	start(t, m)

	begin := time.Now()

	if got := m.Send(t.Context(), "math.square", 2); got.Error != merr.Timeout {
		t.Fatalf("want Timeout, got %+v", got)
	}

	if elapsed := time.Since(begin); elapsed < 30*time.Millisecond || elapsed > time.Second {
		t.Fatalf("timeout not honoured: %s", elapsed)
	}

	if m.PendingCalls() != 0 {
		t.Fatalf("pending calls leaked: %d", m.PendingCalls())
	}
}

func TestBroker_CallerContext(t *testing.T) {
	client, _ := pair(t)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	if got := client.Send(ctx, "slow", 300*time.Millisecond); got.Error != merr.Timeout {
		t.Fatalf("deadline: %+v", got)
	}

	ctx, cancel = context.WithCancel(t.Context())
	time.AfterFunc(20*time.Millisecond, cancel)

	if got := client.Send(ctx, "slow", 300*time.Millisecond); got.Error != merr.Canceled {
		t.Fatalf("cancel: %+v", got)
	}

	if client.PendingCalls() != 0 {
		t.Fatalf("pending calls leaked: %d", client.PendingCalls())
	}
}

func TestBroker_ConcurrentCallsAreIsolated(t *testing.T) {
	client, _ := pair(t)

	const n = 50

	var wg sync.WaitGroup

	errs := make(chan string, n)

	for i := range n {
		wg.Go(func() {
			got := mediator.Send[int](t.Context(), client, "math.square", i)
			if !got.IsSuccess() || got.Payload != i*i {
				errs <- got.Error
			}
		})
	}

	wg.Wait()
	close(errs)

	for e := range errs {
		t.Fatalf("mismatched reply: %q", e)
	}
}

func TestBroker_CompetingServers(t *testing.T) {
	b := inmemory.NewBroker()

	var served [2]atomic.Int32

	for i := range served {
		r := service.NewRegistry(nil)
		_ = service.RegisterFunc(r, "who", func(context.Context, int) (int, error) {
			served[i].Add(1)
			return i, nil
		})

		s := mediator.NewBroker(inmemory.New(b), mediator.WithServices(r))
		start(t, s)
	}

	client := mediator.NewBroker(inmemory.New(b))
	start(t, client)

	for range 20 {
		if got := client.Send(t.Context(), "who", 0); !got.IsSuccess() {
			t.Fatalf("send: %+v", got)
		}
	}

	if total := served[0].Load() + served[1].Load(); total != 20 {
		t.Fatalf("each request must be served exactly once, got %d", total)
	}
}

func TestBroker_LateReplyIsDropped(t *testing.T) {
	reg := prometheus.NewRegistry()

	metrics, err := mediator.NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	client, _ := pair(t, mediator.WithResponseTimeout(20*time.Millisecond), mediator.WithMetrics(metrics))

	if got := client.Send(t.Context(), "slow", 100*time.Millisecond); got.Error != merr.Timeout {
		t.Fatalf("want Timeout, got %+v", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sample(t, reg, "scg_mediator_late_replies_total") < 1 {
		if time.Now().After(deadline) {
			t.Fatalf("late reply never observed")
		}

		time.Sleep(10 * time.Millisecond)
	}

	if client.PendingCalls() != 0 {
		t.Fatalf("pending calls leaked: %d", client.PendingCalls())
	}

	if got := sample(t, reg, "scg_mediator_requests_total"); got != 1 {
		t.Fatalf("requests_total = %v", got)
	}
}

func TestBroker_ShutdownFailsPendingCalls(t *testing.T) {
	client, _ := pair(t)

	done := make(chan cmed.Response[any], 1)

	go func() { done <- client.Send(context.Background(), "slow", 300*time.Millisecond) }()

	deadline := time.Now().Add(time.Second)
	for client.PendingCalls() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("call never became pending")
		}

		time.Sleep(5 * time.Millisecond)
	}

	if err := client.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case got := <-done:
		if got.Error != merr.Unavailable {
			t.Fatalf("want Unavailable, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("pending call not released by shutdown")
	}

	if got := client.Send(t.Context(), "math.square", 2); got.Error != merr.Unavailable {
		t.Fatalf("after shutdown: %+v", got)
	}

	if err := client.Init(t.Context()); !errors.Is(err, merr.ErrNotRunning) {
		t.Fatalf("restart: want ErrNotRunning, got %v", err)
	}
}

func TestBroker_ShutdownDrainsInFlightRequests(t *testing.T) {
	b := inmemory.NewBroker()

	started := make(chan struct{})
	release := make(chan struct{})

	r := service.NewRegistry(nil)
	_ = service.RegisterFunc(r, "gate", func(context.Context, int) (string, error) {
		close(started)
		<-release

		return "served", nil
	})

	server := mediator.NewBroker(inmemory.New(b), mediator.WithServices(r))
	start(t, server)

	client := mediator.NewBroker(inmemory.New(b))
	start(t, client)

	done := make(chan cmed.Response[string], 1)

	go func() { done <- mediator.Send[string](t.Context(), client, "gate", 1) }()

	<-started

	stopped := make(chan error, 1)

	go func() { stopped <- server.Shutdown(context.Background()) }()

	select {
	case <-stopped:
		t.Fatalf("shutdown returned before the in-flight request finished")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)

	if err := <-stopped; err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if got := <-done; got.Payload != "served" {
		t.Fatalf("in-flight request lost: %+v", got)
	}
}

func TestBroker_BeforeInit(t *testing.T) {
	m := mediator.NewBroker(inmemory.New(inmemory.NewBroker()))

	if got := m.Send(t.Context(), "math.square", 2); got.Error != merr.Unavailable {
		t.Fatalf("before init: %+v", got)
	}

	if err := m.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown before init: %v", err)
	}
}

func TestBroker_ConnectErrorReturnedVerbatim(t *testing.T) {
	down := errors.New("dial tcp: connection refused")

	m := mediator.NewBroker(downTransport{Transport: inmemory.New(inmemory.NewBroker()), err: down})
	if err := m.Init(t.Context()); !errors.Is(err, down) {
		t.Fatalf("want connect error, got %v", err)
	}
}

func TestBroker_PublishFailureIsUnknown(t *testing.T) {
	tr := &flakyTransport{Transport: inmemory.New(inmemory.NewBroker())}
	tr.failures.Store(1)

	m := mediator.NewBroker(tr, mediator.WithServices(newRegistry(t)))
	start(t, m)

	if got := m.Send(t.Context(), "math.square", 2); got.Error != merr.Unknown {
		t.Fatalf("want Unknown, got %+v", got)
	}

	if m.PendingCalls() != 0 {
		t.Fatalf("pending calls leaked: %d", m.PendingCalls())
	}
}

func TestBroker_ReplyPublishFailureRequeues(t *testing.T) {
	b := inmemory.NewBroker()

	serverTransport := &flakyTransport{Transport: inmemory.New(b)}
	serverTransport.failures.Store(1)

	var runs atomic.Int32

	r := service.NewRegistry(nil)
	_ = service.RegisterFunc(r, "count", func(context.Context, int) (int32, error) { return runs.Add(1), nil })

	server := mediator.NewBroker(serverTransport, mediator.WithServices(r))
	start(t, server)

	client := mediator.NewBroker(inmemory.New(b))
	start(t, client)

	got := mediator.Send[int32](t.Context(), client, "count", 0)
	if !got.IsSuccess() || got.Payload != 2 {
		t.Fatalf("want redelivered request to answer, got %+v", got)
	}
}

func TestBroker_MalformedTrafficIsDropped(t *testing.T) {
	b := inmemory.NewBroker()

	var runs atomic.Int32

	r := service.NewRegistry(nil)
	_ = service.RegisterFunc(r, "fire", func(context.Context, int) (int, error) { return int(runs.Add(1)), nil })

	server := mediator.NewBroker(inmemory.New(b), mediator.WithServices(r))
	start(t, server)

	raw := inmemory.New(b)
	_ = raw.Connect(t.Context())

	t.Cleanup(func() { _ = raw.Close(context.Background()) })

	ch := mediator.DefaultRequestChannel

	_ = raw.Publish(t.Context(), ch, cmed.Message{Body: []byte("not json"), CorrelationID: "x", ReplyTo: "nowhere"})
	_ = raw.Publish(t.Context(), ch, cmed.Message{Body: []byte(`{"Pattern":"fire","Payload":1,"RequestType":"int"}`)})

	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("request without reply channel was not executed")
		}

		time.Sleep(5 * time.Millisecond)
	}

	// a reply nobody waits for is dropped without disturbing real calls
	_ = raw.Publish(t.Context(), server.ReplyChannel(), cmed.Message{Body: []byte(`{"Payload":1}`), CorrelationID: "ghost"})

	if got := mediator.Send[int](t.Context(), server, "fire", 0); got.Payload != 2 {
		t.Fatalf("mediator stalled after malformed traffic: %+v", got)
	}
}

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	if _, err := mediator.NewMetrics(reg); err != nil {
		t.Fatalf("first: %v", err)
	}

	if _, err := mediator.NewMetrics(reg); err != nil {
		t.Fatalf("second: %v", err)
	}
}

func sample(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var total float64

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}

	return total
}
