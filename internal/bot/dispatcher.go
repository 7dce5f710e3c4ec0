package bot

import (
	"container/list"
	"context"
	"sync"
)

// Handler processes one inbound message to completion.
type Handler interface {
	Handle(ctx context.Context, s Sender, env Envelope)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s Sender, env Envelope)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, s Sender, env Envelope) { f(ctx, s, env) }

type job struct {
	ctx    context.Context
	sender Sender
	env    Envelope
}

// Dispatcher runs messages for the same session key one at a time, in
// arrival order, while different keys proceed concurrently. A key's drain
// goroutine exists only while it has queued work.
type Dispatcher struct {
	handler Handler

	mu     sync.Mutex
	queues map[string]*list.List
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher delivering to h.
func NewDispatcher(h Handler) *Dispatcher {
	return &Dispatcher{
		handler: h,
		queues:  make(map[string]*list.List),
	}
}

// Submit queues env behind earlier messages with the same session key.
// It never blocks on message processing.
func (d *Dispatcher) Submit(ctx context.Context, s Sender, env Envelope) {
	key := env.SessionKey()

	d.mu.Lock()
	defer d.mu.Unlock()
	q, active := d.queues[key]
	if !active {
		q = list.New()
		d.queues[key] = q
		d.wg.Add(1)
		go d.drain(key, q)
	}
	q.PushBack(job{ctx: ctx, sender: s, env: env})
}

func (d *Dispatcher) drain(key string, q *list.List) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		front := q.Front()
		if front == nil {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		q.Remove(front)
		d.mu.Unlock()

		j := front.Value.(job)
		d.handler.Handle(j.ctx, j.sender, j.env)
	}
}

// Active returns the number of session keys with queued or running work.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Wait blocks until every submitted message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
