package mediator

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	cmed "github.com/next-trace/scg-mediator/contract/mediator"
)

// pendingCalls holds the reply slots of outstanding requests keyed by correlation id.
// Each slot is consumed exactly once: whoever wins LoadAndDelete (reply, timeout,
// cancellation or shutdown) owns the outcome.
type pendingCalls struct {
	calls sync.Map // correlation id -> chan cmed.Response[any]
	size  atomic.Int64
	gauge prometheus.Gauge
}

func (p *pendingCalls) add(id string) <-chan cmed.Response[any] {
	ch := make(chan cmed.Response[any], 1)
	p.calls.Store(id, ch)
	p.changed(1)

	return ch
}

// resolve hands resp to the waiter of id. It reports false when id is unknown,
// already timed out or otherwise consumed.
func (p *pendingCalls) resolve(id string, resp cmed.Response[any]) bool {
	v, ok := p.calls.LoadAndDelete(id)
	if !ok {
		return false
	}

	p.changed(-1)
	v.(chan cmed.Response[any]) <- resp //nolint:forcetypeassert // only channels are stored

	return true
}

// remove abandons id. It reports false when a concurrent resolve won the slot.
func (p *pendingCalls) remove(id string) bool {
	if _, ok := p.calls.LoadAndDelete(id); !ok {
		return false
	}

	p.changed(-1)

	return true
}

// failAll resolves every outstanding call with code and returns how many were failed.
func (p *pendingCalls) failAll(code string) int {
	n := 0

	p.calls.Range(func(k, _ any) bool {
		if p.resolve(k.(string), cmed.Failure[any](code)) { //nolint:forcetypeassert // keys are strings
			n++
		}

		return true
	})

	return n
}

func (p *pendingCalls) len() int { return int(p.size.Load()) }

func (p *pendingCalls) changed(delta int64) {
	p.size.Add(delta)

	if p.gauge != nil {
		p.gauge.Add(float64(delta))
	}
}
