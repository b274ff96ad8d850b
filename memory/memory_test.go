package memory

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	"github.com/next-trace/scg-mediator/mediator"
	"github.com/next-trace/scg-mediator/service"
)

type userCreated struct{ ID string }

func TestNewMemoryBus_BasicFlow(t *testing.T) {
	r := service.NewRegistry(nil)

	if err := service.RegisterFunc(r, "users.get", func(_ context.Context, id string) (string, error) {
		return "user-" + id, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	var welcomed atomic.Int32

	if err := service.SubscribeFunc(r, "users.created", func(_ context.Context, e userCreated) error {
		if e.ID == "u-1" {
			welcomed.Add(1)
		}

		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b, cleanup, err := New(t.Context(), r, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer cleanup()

	if got := mediator.Send[string](t.Context(), b.Mediator, "users.get", "u-1"); got.Payload != "user-u-1" {
		t.Fatalf("send: %+v", got)
	}

	if got := b.Mediator.Send(t.Context(), "users.missing", nil); got.Error != merr.ServiceNotFound {
		t.Fatalf("missing: %+v", got)
	}

	if err := b.Signals.Emit(t.Context(), "users.created", userCreated{ID: "u-1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for welcomed.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("signal not handled")
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewMemoryBus_ShutdownIsTerminal(t *testing.T) {
	b, _, err := New(t.Context(), service.NewRegistry(nil), nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := b.Shutdown(t.Context()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if got := b.Mediator.Send(t.Context(), "any", nil); got.Error != merr.Unavailable {
		t.Fatalf("after shutdown: %+v", got)
	}
}
