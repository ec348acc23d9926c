package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/coday/internal/observability"
	"github.com/haasonsaas/coday/pkg/models"
)

const (
	// defaultQueueSize bounds each subscriber's delivery queue. A consumer
	// that falls this far behind is closed rather than slowing the bus.
	defaultQueueSize = 256

	// defaultHistorySize is the replay ring capacity for late joiners.
	defaultHistorySize = 256

	// defaultHeartbeatInterval keeps long-lived transports alive.
	defaultHeartbeatInterval = 25 * time.Second
)

// Bus fans events out to subscribers with per-session FIFO ordering.
//
// Publish is non-blocking: delivery to each subscriber goes through a
// bounded queue, and a subscriber whose queue overflows has its channel
// closed without affecting the others. Events published
// before a Subscribe call are available through the replay buffer.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextSub int
	history []*models.Event
	seq     *Sequencer
	logger  *slog.Logger
	closed  bool

	queueSize   int
	historySize int

	hbStop chan struct{}
	hbDone chan struct{}
}

type subscriber struct {
	ch     chan *models.Event
	closed bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithQueueSize overrides the per-subscriber queue bound.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithHistorySize overrides the replay buffer capacity.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithSequencer overrides the event ID sequencer, used by tests to pin time.
func WithSequencer(seq *Sequencer) Option {
	return func(b *Bus) {
		if seq != nil {
			b.seq = seq
		}
	}
}

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:        make(map[int]*subscriber),
		seq:         NewSequencer(),
		logger:      slog.Default(),
		queueSize:   defaultQueueSize,
		historySize: defaultHistorySize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NextID reserves an event ID without publishing. Producers that must know
// an event's ID before emitting children (Invite, ToolRequest) use this and
// set it on the event they later publish.
func (b *Bus) NextID() string {
	return b.seq.Next()
}

// Publish stamps and delivers an event to every live subscriber, in FIFO
// order relative to other publishes on this bus. The stamped event is
// returned so callers can reference its ID.
func (b *Bus) Publish(e *models.Event) *models.Event {
	if e == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return e
	}

	if e.ID == "" {
		e.ID = b.seq.Next()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.history = append(b.history, e)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}

	observability.EventsPublished.WithLabelValues(string(e.Kind)).Inc()

	for id, sub := range b.subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Slow consumer: drop it, not the event stream.
			b.logger.Warn("event subscriber overflow, dropping subscriber",
				"subscriber", id,
				"queue_size", b.queueSize,
			)
			observability.EventsDropped.Inc()
			b.closeSubscriberLocked(id, sub)
		}
	}
	return e
}

// Subscribe returns a live event stream, a snapshot of the replay buffer,
// and a cancel function. Events already in the snapshot are not redelivered
// on the stream.
func (b *Bus) Subscribe() (<-chan *models.Event, []*models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	history := make([]*models.Event, len(b.history))
	copy(history, b.history)

	if b.closed {
		ch := make(chan *models.Event)
		close(ch)
		return ch, history, func() {}
	}

	id := b.nextSub
	b.nextSub++
	sub := &subscriber{ch: make(chan *models.Event, b.queueSize)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok && !s.closed {
			s.closed = true
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, history, cancel
}

// History returns a copy of the replay buffer.
func (b *Bus) History() []*models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Event, len(b.history))
	copy(out, b.history)
	return out
}

// StartHeartbeat begins emitting Heartbeat events at the given interval
// (default 25s when zero). It is a no-op if a heartbeat is already running.
func (b *Bus) StartHeartbeat(interval time.Duration) {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	b.mu.Lock()
	if b.closed || b.hbStop != nil {
		b.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	b.hbStop = stop
	b.hbDone = done
	b.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.Publish(&models.Event{Kind: models.EventHeartbeat})
			case <-stop:
				return
			}
		}
	}()
}

// Close stops the heartbeat and closes every subscriber stream. Further
// publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	stop, done := b.hbStop, b.hbDone
	b.hbStop, b.hbDone = nil, nil
	for id, sub := range b.subs {
		b.closeSubscriberLocked(id, sub)
	}
	b.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

func (b *Bus) closeSubscriberLocked(id int, sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(b.subs, id)
	close(sub.ch)
}
