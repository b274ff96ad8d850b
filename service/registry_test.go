package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merr "github.com/next-trace/scg-mediator/contract/errors"
	"github.com/next-trace/scg-mediator/service"
)

type SquareService struct{}

func (SquareService) Run(_ context.Context, x int) (int, error) { return x * x, nil }

type namedService struct{ name string }

func (n namedService) Pattern() string { return n.name }
func (namedService) Run(_ context.Context, s string) (string, error) { return s, nil }

type point struct{ X, Y int }

func TestDerivePattern(t *testing.T) {
	assert.Equal(t, "github.com.next-trace.scg-mediator.service_test.SquareService", service.DerivePattern(SquareService{}))
	assert.Equal(t, "github.com.next-trace.scg-mediator.service_test.SquareService", service.DerivePattern(&SquareService{}))
	assert.Equal(t, "echo", service.DerivePattern(namedService{name: "echo"}))
	assert.Equal(t, "github.com.next-trace.scg-mediator.service_test.namedService", service.DerivePattern(namedService{}))
	assert.Empty(t, service.DerivePattern(nil))
}

func TestRegister_PatternPrecedence(t *testing.T) {
	r := service.NewRegistry(nil)

	require.NoError(t, service.Register[string, string](r, namedService{name: "own"}, service.WithPattern("option")))
	require.NoError(t, service.Register[int, int](r, SquareService{}, service.WithPattern("square")))
	require.NoError(t, service.Register[int, int](r, &SquareService{}))

	_, ok := r.Service("own")
	assert.True(t, ok, "Pattern() must win over WithPattern")

	_, ok = r.Service("option")
	assert.False(t, ok)

	_, ok = r.Service("square")
	assert.True(t, ok)

	assert.Equal(t, []string{
		"github.com.next-trace.scg-mediator.service_test.SquareService",
		"own",
		"square",
	}, r.Patterns())
}

func TestRegister_DuplicateAndEmpty(t *testing.T) {
	r := service.NewRegistry(nil)

	require.NoError(t, service.Register[int, int](r, SquareService{}, service.WithPattern("square")))

	err := service.Register[int, int](r, SquareService{}, service.WithPattern("square"))
	require.ErrorIs(t, err, merr.ErrHandlerExists)

	err = service.RegisterFunc(r, "", func(context.Context, int) (int, error) { return 0, nil })
	require.ErrorIs(t, err, merr.ErrInvalidPattern)

	err = service.SubscribeFunc(r, "", func(context.Context, int) error { return nil })
	require.ErrorIs(t, err, merr.ErrInvalidPattern)

	assert.Panics(t, func() {
		service.MustRegister[int, int](r, SquareService{}, service.WithPattern("square"))
	})
}

func TestResolve_SameIdentity(t *testing.T) {
	r := service.NewRegistry(nil)
	require.NoError(t, service.Register[int, int](r, SquareService{}, service.WithPattern("square")))

	a, ok := r.Service("square")
	require.True(t, ok)

	b, ok := r.Service("square")
	require.True(t, ok)

	assert.Same(t, a, b)
	assert.Equal(t, a.Run(t.Context(), 3), b.Run(t.Context(), 3))
}

func TestAdapter_Run(t *testing.T) {
	r := service.NewRegistry(nil)
	require.NoError(t, service.Register[int, int](r, SquareService{}, service.WithPattern("square")))
	require.NoError(t, service.RegisterFunc(r, "boom", func(context.Context, int) (int, error) {
		panic("kaboom")
	}))
	require.NoError(t, service.RegisterFunc(r, "fail", func(context.Context, int) (int, error) {
		return 0, errors.New("db down")
	}))
	require.NoError(t, service.RegisterFunc(r, "deny", func(context.Context, int) (int, error) {
		return 0, merr.Code(merr.ServiceNotFound)
	}))

	square, _ := r.Service("square")

	res := square.Run(t.Context(), 2)
	assert.True(t, res.IsSuccess())
	assert.Equal(t, 4, res.Payload)

	// foreign numeric types are converted the way a broker round trip would
	res = square.Run(t.Context(), int64(3))
	assert.Equal(t, 9, res.Payload)

	res = square.Run(t.Context(), json.RawMessage("5"))
	assert.Equal(t, 25, res.Payload)

	assert.Equal(t, merr.NullRequest, square.Run(t.Context(), nil).Error)
	assert.Equal(t, merr.InvalidRequestType, square.Run(t.Context(), "two").Error)

	boom, _ := r.Service("boom")
	assert.Equal(t, merr.InvalidServiceExecution, boom.Run(t.Context(), 1).Error)

	fail, _ := r.Service("fail")
	assert.Equal(t, merr.InvalidServiceExecution, fail.Run(t.Context(), 1).Error)

	deny, _ := r.Service("deny")
	assert.Equal(t, merr.ServiceNotFound, deny.Run(t.Context(), 1).Error)
}

func TestAdapter_AllowNullRequest(t *testing.T) {
	r := service.NewRegistry(nil)
	require.NoError(t, service.RegisterFunc(r, "origin", func(_ context.Context, p *point) (int, error) {
		if p == nil {
			return 0, nil
		}

		return p.X + p.Y, nil
	}, service.AllowNullRequest()))

	svc, _ := r.Service("origin")
	assert.True(t, svc.AllowsNullRequest())
	assert.Equal(t, "*service_test.point", svc.RequestType())

	res := svc.Run(t.Context(), nil)
	require.True(t, res.IsSuccess())
	assert.Equal(t, 0, res.Payload)

	res = svc.Run(t.Context(), &point{X: 1, Y: 2})
	assert.Equal(t, 3, res.Payload)
}

func TestAdapter_DecodeRequest(t *testing.T) {
	r := service.NewRegistry(nil)
	require.NoError(t, service.Register[int, int](r, SquareService{}, service.WithPattern("square")))

	svc, _ := r.Service("square")

	v, err := svc.DecodeRequest([]byte("7"))
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = svc.DecodeRequest([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = svc.DecodeRequest([]byte(`"seven"`))
	require.Error(t, err)
}

func TestSignalHandlers_OrderAndIsolation(t *testing.T) {
	r := service.NewRegistry(nil)

	var seen []string

	require.NoError(t, service.SubscribeFunc(r, "user.created", func(_ context.Context, id string) error {
		seen = append(seen, "first:"+id)
		return nil
	}))
	require.NoError(t, service.SubscribeFunc(r, "user.created", func(_ context.Context, _ string) error {
		panic("second handler broke")
	}))

	handlers := r.SignalHandlers("user.created")
	require.Len(t, handlers, 2)
	assert.Empty(t, r.SignalHandlers("nobody.listens"))

	ev, err := handlers[0].DecodeEvent([]byte(`"u1"`))
	require.NoError(t, err)
	require.NoError(t, handlers[0].Handle(t.Context(), ev))
	assert.Equal(t, []string{"first:u1"}, seen)

	err = handlers[1].Handle(t.Context(), "u1")
	require.Error(t, err)

	code, ok := merr.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, merr.InvalidServiceExecution, code)
}
