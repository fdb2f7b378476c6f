package ledger

import (
	"context"
	"sync"

	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// outbox holds the event of one mutation until the writer lock is released
type outbox struct {
	event  models.Event
	turn   uint64
	staged bool
}

// publisher hands events to the sink outside the writer lock while keeping
// commit order: turns are taken under the lock and served in sequence
type publisher struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newPublisher() *publisher {
	p := &publisher{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// take reserves the next turn. Callers must hold the engine's writer lock.
func (p *publisher) take() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	turn := p.next
	p.next++
	return turn
}

// wait blocks until turn is served
func (p *publisher) wait(turn uint64) {
	p.mu.Lock()
	for p.serving != turn {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

func (p *publisher) done() {
	p.mu.Lock()
	p.serving++
	p.cond.Broadcast()
	p.mu.Unlock()
}

// stage records a committed event in out. Must be called with e.mu held.
func (e *Engine) stage(out *outbox, event models.Event) {
	out.event = event
	out.turn = e.publisher.take()
	out.staged = true
}

// publish hands a staged event to the sink once every earlier event has been
// handed over. It runs after e.mu is released so a slow sink never blocks the
// ledger. Failures are logged only.
func (e *Engine) publish(ctx context.Context, out *outbox) {
	if !out.staged {
		return
	}
	e.publisher.wait(out.turn)
	defer e.publisher.done()

	if err := e.sink.Publish(ctx, out.event); err != nil {
		e.logger.Error("Failed to publish %s event %s: %v", out.event.Type, out.event.ID, err)
	}
}
