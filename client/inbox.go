package client

import (
	"context"
	"sync"

	"github.com/localrivet/sandboxsdk/protocol"
)

// inbox correlates inbound envelopes with the goroutines waiting for them.
// It holds either buffered envelopes or parked waiters, never both: an
// envelope that arrives while someone waits goes straight to the oldest
// waiter, and a waiter that arrives while envelopes are buffered takes the
// oldest one.
//
// Each interrupt starts a new generation. A reader that names the generation
// it started in is refused once that generation is over, even if it was not
// parked when the interrupt happened.
type inbox struct {
	mu      sync.Mutex
	buf     []*protocol.Envelope
	waiters []*waiter
	err     error // sticky; returned once buf is drained
	gen     uint64
	lost    error // why the last generation ended
}

type waiter struct {
	ch chan delivery // buffered, receives exactly once
}

type delivery struct {
	env *protocol.Envelope
	err error
}

func newInbox() *inbox {
	return &inbox{}
}

// push delivers env to the oldest waiter or appends it to the buffer.
func (q *inbox) push(env *protocol.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w.ch <- delivery{env: env}
		return
	}
	q.buf = append(q.buf, env)
}

// generation returns the current generation.
func (q *inbox) generation() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// next returns the oldest buffered envelope, or waits for the next one.
// Buffered envelopes are returned even after close.
func (q *inbox) next(ctx context.Context) (*protocol.Envelope, error) {
	return q.take(ctx, nil)
}

// nextIn is next for a reader bound to generation gen. It fails with the
// interrupt's error once gen has ended.
func (q *inbox) nextIn(ctx context.Context, gen uint64) (*protocol.Envelope, error) {
	return q.take(ctx, &gen)
}

func (q *inbox) take(ctx context.Context, gen *uint64) (*protocol.Envelope, error) {
	q.mu.Lock()
	if gen != nil && *gen != q.gen {
		err := q.lost
		q.mu.Unlock()
		return nil, err
	}
	if len(q.buf) > 0 {
		env := q.buf[0]
		q.buf[0] = nil
		q.buf = q.buf[1:]
		q.mu.Unlock()
		return env, nil
	}
	if q.err != nil {
		err := q.err
		q.mu.Unlock()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	w := &waiter{ch: make(chan delivery, 1)}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	select {
	case d := <-w.ch:
		return d.env, d.err
	case <-ctx.Done():
		q.mu.Lock()
		if q.removeLocked(w) {
			q.mu.Unlock()
			return nil, ctx.Err()
		}
		q.mu.Unlock()
		// Delivered concurrently with cancellation. Hand the envelope back
		// so the next reader sees it in order.
		d := <-w.ch
		if d.env != nil {
			q.unshift(d.env)
		}
		return nil, ctx.Err()
	}
}

func (q *inbox) removeLocked(w *waiter) bool {
	for i, cur := range q.waiters {
		if cur == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// unshift returns env to the front of the queue.
func (q *inbox) unshift(env *protocol.Envelope) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		w.ch <- delivery{env: env}
		return
	}
	q.buf = append([]*protocol.Envelope{env}, q.buf...)
}

// interrupt fails every parked waiter with err, discards buffered envelopes
// and ends the current generation. Later calls to next wait normally.
func (q *inbox) interrupt(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failWaitersLocked(err)
	q.buf = nil
	q.gen++
	q.lost = err
}

// close fails every parked waiter with err and makes err sticky. Buffered
// envelopes stay readable.
func (q *inbox) close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = err
	}
	q.failWaitersLocked(q.err)
}

func (q *inbox) failWaitersLocked(err error) {
	for _, w := range q.waiters {
		w.ch <- delivery{err: err}
	}
	q.waiters = nil
}

// pending returns the number of buffered envelopes and parked waiters.
func (q *inbox) pending() (buffered, waiting int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf), len(q.waiters)
}
