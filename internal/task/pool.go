package task

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Unit is one independent piece of work submitted to a Pool. The context a
// unit receives carries the caller's values but is never cancelled; the
// caller's cancellation is only observed between units.
type Unit func(ctx context.Context) Outcome

// Handle tracks a submitted unit.
type Handle struct {
	done    chan struct{}
	outcome Outcome
}

// Wait blocks until the unit has finished and returns its outcome.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

// Done is closed once the unit has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func finishedHandle(o Outcome) *Handle {
	h := &Handle{done: make(chan struct{}), outcome: o}
	close(h.done)
	return h
}

// Pool is a named worker pool admitting at most Size units at a time.
type Pool struct {
	name     string
	size     int
	sem      *semaphore.Weighted
	inflight sync.WaitGroup
}

// NewPool creates a pool. Sizes below one are raised to one.
func NewPool(name string, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		name: name,
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

// Submit admits unit into the pool, blocking only until a slot is free. If
// ctx is done before a slot frees up, the unit never runs and its handle
// reports Aborted. The unit receives ctx itself, so fan-out it starts stops
// submitting once ctx is done; store I/O that must not be torn mid-unit
// detaches from cancellation at the call site.
func (p *Pool) Submit(ctx context.Context, unit Unit) *Handle {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return finishedHandle(Outcome{State: Aborted, Reason: fmt.Sprintf("%s pool: %v", p.name, err)})
	}

	h := &Handle{done: make(chan struct{})}
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		defer p.sem.Release(1)
		defer close(h.done)
		h.outcome = runUnit(ctx, unit)
	}()
	return h
}

// Run submits every unit and joins them all. The context is polled before
// each submission; once it is done, the remaining units are not submitted and
// are reported as Aborted, while units already running decide for themselves
// how to wind down.
func (p *Pool) Run(ctx context.Context, units []Unit) Aggregate {
	handles := make([]*Handle, 0, len(units))
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			handles = append(handles, finishedHandle(Outcome{State: Aborted, Reason: fmt.Sprintf("%s pool: not submitted: %v", p.name, err)}))
			continue
		}
		handles = append(handles, p.Submit(ctx, u))
	}
	return JoinAll(handles)
}

// Wait blocks until every unit submitted to the pool has finished.
func (p *Pool) Wait() {
	p.inflight.Wait()
}

// JoinAll waits for every handle. A failed unit does not affect its siblings.
func JoinAll(handles []*Handle) Aggregate {
	agg := Aggregate{Outcomes: make([]Outcome, len(handles))}
	for i, h := range handles {
		agg.Outcomes[i] = h.Wait()
	}
	return agg
}

func runUnit(ctx context.Context, unit Unit) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = Failuref("unit panicked: %v", r)
		}
	}()

	o = unit(ctx)
	if !o.State.Terminal() {
		o = Failuref("unit finished in non-terminal state %s", o.State)
	}
	return o
}
