package feedback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Notoriousjayy/CIFlowDocs/internal/eventstore"
	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
	"github.com/Notoriousjayy/CIFlowDocs/internal/metrics"
)

const (
	queueSize   = 64
	sendTimeout = 30 * time.Second
)

// Binding couples a channel with the audience roles it serves. Empty roles
// means the channel receives everything.
type Binding struct {
	Channel Channel
	Roles   []string
}

// accepts reports whether the binding should receive the event.
func (b Binding) accepts(ev Event) bool {
	if len(b.Roles) == 0 || ev.Broadcast() {
		return true
	}
	for _, role := range b.Roles {
		for _, aud := range ev.Audience {
			if role == aud {
				return true
			}
		}
	}
	return false
}

// Dispatcher fans events out to channels. Each channel gets its own worker
// and FIFO queue, so events stay ordered per channel and a slow or failing
// channel never blocks the others. When a queue overflows the oldest
// guarantee kept is build progress, not delivery: the event is dropped and
// counted.
type Dispatcher struct {
	bindings []Binding
	queues   []chan Event
	store    eventstore.Store
	recorder metrics.Recorder

	mu     sync.RWMutex
	wg     sync.WaitGroup
	closed bool
}

// NewDispatcher starts one worker per binding. store is optional; when set,
// every delivery attempt is recorded for the audit trail.
func NewDispatcher(bindings []Binding, store eventstore.Store, recorder metrics.Recorder) *Dispatcher {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	d := &Dispatcher{
		bindings: bindings,
		queues:   make([]chan Event, len(bindings)),
		store:    store,
		recorder: recorder,
	}
	for i := range bindings {
		d.queues[i] = make(chan Event, queueSize)
		d.wg.Add(1)
		go d.run(bindings[i], d.queues[i])
	}
	return d
}

// Dispatch routes the event to every accepting channel. It never blocks the
// caller.
func (d *Dispatcher) Dispatch(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for i, b := range d.bindings {
		if !b.accepts(ev) {
			continue
		}
		select {
		case d.queues[i] <- ev:
		default:
			slog.Warn("Feedback queue full, dropping event",
				logfields.Channel(b.Channel.Name()), slog.String("kind", string(ev.Kind)))
			d.recorder.IncFeedbackDelivery(b.Channel.Name(), false)
		}
	}
}

func (d *Dispatcher) run(b Binding, queue chan Event) {
	defer d.wg.Done()
	for ev := range queue {
		d.deliver(b.Channel, ev)
	}
}

func (d *Dispatcher) deliver(ch Channel, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	err := ch.Send(ctx, ev)
	if err != nil {
		slog.Warn("Feedback delivery failed",
			logfields.Channel(ch.Name()), slog.String("kind", string(ev.Kind)),
			logfields.BuildID(ev.BuildID), logfields.Error(err))
	}
	d.recorder.IncFeedbackDelivery(ch.Name(), err == nil)
	d.audit(ctx, ch.Name(), ev, err == nil)
}

func (d *Dispatcher) audit(ctx context.Context, channel string, ev Event, delivered bool) {
	if d.store == nil {
		return
	}
	record, err := eventstore.NewFeedbackSent(ev.BuildID, ev.Pipeline, channel, string(ev.Kind), delivered)
	if err != nil {
		return
	}
	if err := d.store.Append(ctx, record.BuildID(), record.Pipeline(), record.Type(), record.Payload(), nil); err != nil {
		slog.Warn("Feedback audit append failed", logfields.Error(err))
	}
}

// Close drains the queues and stops the workers. Dispatch calls after Close
// are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
