package eventbus

// Subscriber receives TurnEvents in emission order. Implementations must
// be safe to call from the single goroutine that owns a Bus (the turn
// orchestrator) and must never block it: a slow subscriber should buffer
// or drop, not stall Emit.
type Subscriber interface {
	Emit(e TurnEvent)
}

// Bus is a single-writer/single-reader sink owned by a turn orchestrator.
// One Bus exists per live turn; the orchestrator calls Emit from the
// single goroutine running that turn, so Bus itself needs no locking.
type Bus struct {
	sub Subscriber
}

// New builds a Bus publishing to sub. sub may be nil, in which case
// events are discarded (useful for turns run without a GUI attached,
// e.g. the cmd/mcpcored smoke CLI).
func New(sub Subscriber) *Bus {
	return &Bus{sub: sub}
}

// Emit publishes e to the subscriber, if one is attached. It never
// blocks beyond whatever the subscriber's own Emit does; subscribers
// that need non-blocking delivery should use ChanSubscriber.
func (b *Bus) Emit(e TurnEvent) {
	if b.sub != nil {
		b.sub.Emit(e)
	}
}

// FuncSubscriber adapts a plain function to the Subscriber interface.
type FuncSubscriber func(e TurnEvent)

func (f FuncSubscriber) Emit(e TurnEvent) { f(e) }

// ChanSubscriber delivers events onto a buffered channel, dropping the
// event rather than blocking the orchestrator when the channel is full.
// This is the bus's back-pressure policy per the concurrency model: the
// core must never block on the bus.
type ChanSubscriber struct {
	ch chan<- TurnEvent
}

// NewChanSubscriber wraps ch, which should be buffered; an unbuffered
// channel with no ready reader will cause every Emit to drop.
func NewChanSubscriber(ch chan<- TurnEvent) *ChanSubscriber {
	return &ChanSubscriber{ch: ch}
}

func (c *ChanSubscriber) Emit(e TurnEvent) {
	select {
	case c.ch <- e:
	default:
	}
}

// RecordingSubscriber accumulates every event it receives, in order.
// Intended for tests.
type RecordingSubscriber struct {
	Events []TurnEvent
}

func (r *RecordingSubscriber) Emit(e TurnEvent) {
	r.Events = append(r.Events, e)
}
