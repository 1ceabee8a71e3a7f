package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultSubscriberBuffer = 64
	dropLogInterval         = 5 * time.Second
)

// Publisher is the write half of the bus; workers and the collector emit
// through it without knowing about observers.
type Publisher interface {
	Publish(evt Event)
}

// Bus fans timestamped run events out to zero or more live observers per
// run. Publish never blocks waiting for observers and never retries
// delivery; a run's channel is torn down once a terminal event has been
// delivered. Reconnecting observers must read current state from the run
// store, not from replay.
type Bus struct {
	mu      sync.Mutex
	runs    map[string]*runChannel
	bufSize int

	logger      *zap.Logger
	dropLimiter rateLimiter
	dropped     atomic.Int64
}

type runChannel struct {
	subs   map[int]chan Event
	nextID int
	done   bool
}

// Option adjusts Bus construction.
type Option func(*Bus)

// WithSubscriberBuffer sets the per-observer channel capacity.
func WithSubscriberBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// NewBus constructs an empty Bus.
func NewBus(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		runs:        make(map[string]*runChannel),
		bufSize:     defaultSubscriberBuffer,
		logger:      logger,
		dropLimiter: rateLimiter{interval: dropLogInterval},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish forwards the event to every currently-connected observer of its
// run. Invalid events are discarded. A terminal event closes every observer
// channel and releases the run's resources; publishes after teardown are
// dropped silently, which makes redelivered jobs safe.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if err := evt.Validate(); err != nil {
		b.logger.Debug("discarding invalid task event", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rc, ok := b.runs[evt.RunID]
	if !ok || rc.done {
		if evt.Type.Terminal() {
			return
		}
		if !ok {
			rc = &runChannel{subs: make(map[int]chan Event)}
			b.runs[evt.RunID] = rc
		}
	}

	for _, ch := range rc.subs {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
			if b.dropLimiter.Allow(time.Now()) {
				count := b.dropped.Swap(0)
				b.logger.Warn("task events dropped due to slow observers",
					zap.String("run_id", evt.RunID),
					zap.Int64("dropped", count),
				)
			}
		}
	}

	if evt.Type.Terminal() {
		rc.done = true
		for _, ch := range rc.subs {
			close(ch)
		}
		delete(b.runs, evt.RunID)
	}
}

// Subscribe registers an observer for a run and returns its event channel
// plus a cancel function. The observer receives only events published after
// subscription. The channel is closed when a terminal event is delivered or
// cancel is called.
func (b *Bus) Subscribe(runID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rc, ok := b.runs[runID]
	if !ok {
		rc = &runChannel{subs: make(map[int]chan Event)}
		b.runs[runID] = rc
	}
	id := rc.nextID
	rc.nextID++
	ch := make(chan Event, b.bufSize)
	rc.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		cur, ok := b.runs[runID]
		if !ok {
			return
		}
		sub, ok := cur.subs[id]
		if !ok {
			return
		}
		delete(cur.subs, id)
		close(sub)
		if len(cur.subs) == 0 {
			delete(b.runs, runID)
		}
	}
	return ch, cancel
}

// Observers reports the number of connected observers for a run.
func (b *Bus) Observers(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	rc, ok := b.runs[runID]
	if !ok {
		return 0
	}
	return len(rc.subs)
}

type rateLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *rateLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
