// Broadcast router for mutation events.
//
// A single service goroutine owns the subscriber list. Dispatch, register,
// and unregister all travel over the same bounded request channel, so their
// interleaving is deterministic: a subscriber admitted before a dispatch
// receives that event, one admitted after does not.
//
// Delivery to each sink preserves dispatch order. A full sink blocks the
// fan-out for at most the configured slow-subscriber timeout; past that the
// sink is dropped and never written again. A closed sink is detected on the
// next delivery attempt and dropped the same way.
package quire

import (
	"cmp"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventKind discriminates the two event shapes subscribers observe.
type EventKind uint8

const (
	// EventSubscribed is the marker every subscriber receives first,
	// confirming its sink is registered. It carries no payload.
	EventSubscribed EventKind = iota

	// EventQuery reports one applied mutation.
	EventQuery
)

// Event is what subscriber sinks receive. For EventQuery, Op and Key are
// always set and Doc is non-nil exactly when Op is OpInsert.
type Event[K cmp.Ordered, D Document[K]] struct {
	Kind EventKind
	Op   Operation
	Key  K
	Doc  *D
}

type routerOp uint8

const (
	routerDispatch routerOp = iota
	routerRegister
	routerUnregister
)

type routerReq[K cmp.Ordered, D Document[K]] struct {
	op    routerOp
	ev    Event[K, D]
	sink  chan<- Event[K, D]
	reply chan struct{}
}

type subscriber[K cmp.Ordered, D Document[K]] struct {
	id   uuid.UUID
	sink chan<- Event[K, D]
}

// router fans events out to registered sinks in registration order.
type router[K cmp.Ordered, D Document[K]] struct {
	reqs    chan routerReq[K, D]
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	timeout time.Duration
	logger  *zap.Logger
	metrics *storeMetrics

	// subs is owned by the service goroutine.
	subs []subscriber[K, D]
}

func newRouter[K cmp.Ordered, D Document[K]](queue int, timeout time.Duration, logger *zap.Logger, metrics *storeMetrics) *router[K, D] {
	r := &router[K, D]{
		reqs:    make(chan routerReq[K, D], queue),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
	go r.run()
	return r
}

func (r *router[K, D]) run() {
	defer close(r.stopped)
	for {
		select {
		case req := <-r.reqs:
			r.handle(req)
		case <-r.done:
			return
		}
	}
}

func (r *router[K, D]) handle(req routerReq[K, D]) {
	switch req.op {
	case routerDispatch:
		r.fanOut(req.ev)

	case routerRegister:
		sub := subscriber[K, D]{id: uuid.New(), sink: req.sink}
		r.subs = append(r.subs, sub)
		r.metrics.subscribers.Inc()
		// The join marker is delivered before the register call returns,
		// so it precedes every event the subscriber will ever see.
		if !r.deliver(sub, Event[K, D]{Kind: EventSubscribed}) {
			r.drop(sub.id)
		}
		close(req.reply)

	case routerUnregister:
		for _, sub := range r.subs {
			if sub.sink == req.sink {
				r.remove(sub.id)
				break
			}
		}
		close(req.reply)
	}
}

// fanOut delivers ev to every live sink in registration order, dropping
// the ones that time out or are closed.
func (r *router[K, D]) fanOut(ev Event[K, D]) {
	var dead []uuid.UUID
	for _, sub := range r.subs {
		if !r.deliver(sub, ev) {
			dead = append(dead, sub.id)
		}
	}
	for _, id := range dead {
		r.drop(id)
	}
}

// deliver enqueues ev to one sink. Returns false when the sink timed out
// or was closed by the subscriber; sending on a closed channel panics, and
// that panic is the lazy close detection.
func (r *router[K, D]) deliver(sub subscriber[K, D], ev Event[K, D]) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if r.timeout <= 0 {
		// Unbounded blocking, but never past shutdown.
		select {
		case sub.sink <- ev:
			return true
		case <-r.done:
			return true
		}
	}

	select {
	case sub.sink <- ev:
		return true
	default:
	}

	t := time.NewTimer(r.timeout)
	defer t.Stop()
	select {
	case sub.sink <- ev:
		return true
	case <-t.C:
		r.logger.Warn("dropping slow subscriber",
			zap.String("subscriber", sub.id.String()),
			zap.Duration("timeout", r.timeout))
		return false
	case <-r.done:
		return true
	}
}

// drop removes a sink the router gave up on; remove is the voluntary
// variant used by unregister.
func (r *router[K, D]) drop(id uuid.UUID) {
	if r.remove(id) {
		r.metrics.subscribersDropped.Inc()
	}
}

func (r *router[K, D]) remove(id uuid.UUID) bool {
	for i, sub := range r.subs {
		if sub.id == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			r.metrics.subscribers.Dec()
			return true
		}
	}
	return false
}

// dispatch submits an event for fan-out. Events carry no ack; the call
// returns once the event is admitted to the service channel.
func (r *router[K, D]) dispatch(ctx context.Context, ev Event[K, D]) error {
	req := routerReq[K, D]{op: routerDispatch, ev: ev}
	select {
	case r.reqs <- req:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register admits a sink and blocks until the Subscribed marker has been
// delivered to it.
func (r *router[K, D]) register(ctx context.Context, sink chan<- Event[K, D]) error {
	return r.submit(ctx, routerReq[K, D]{op: routerRegister, sink: sink, reply: make(chan struct{})})
}

// unregister removes a sink. Events already fanned out to it remain in
// its channel.
func (r *router[K, D]) unregister(ctx context.Context, sink chan<- Event[K, D]) error {
	return r.submit(ctx, routerReq[K, D]{op: routerUnregister, sink: sink, reply: make(chan struct{})})
}

func (r *router[K, D]) submit(ctx context.Context, req routerReq[K, D]) error {
	select {
	case r.reqs <- req:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-req.reply:
		return nil
	case <-r.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the service. Undelivered events queued in the request
// channel are discarded; subscriber channels are left open for their
// owners to close.
func (r *router[K, D]) close() {
	r.once.Do(func() {
		close(r.done)
		<-r.stopped
	})
}
