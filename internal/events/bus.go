package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/tradelink/internal/model"
)

// Publisher accepts canonical events. Implementations must not block.
type Publisher interface {
	Publish(msg model.Message)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(msg model.Message)

// Publish calls f(msg).
func (f PublisherFunc) Publish(msg model.Message) { f(msg) }

// Subscription is one observer's view of the bus.
type Subscription struct {
	name string
	buf  *Buffer[model.Message]
}

// Name returns the observer name given at Subscribe.
func (s *Subscription) Name() string { return s.name }

// Receive blocks for the next message. Returns false once the bus is
// closed and the buffer drained.
func (s *Subscription) Receive() (model.Message, bool) { return s.buf.Receive() }

// TryReceive returns the next message if one is buffered.
func (s *Subscription) TryReceive() (model.Message, bool) { return s.buf.TryReceive() }

// Drain removes up to max buffered messages (all if max <= 0).
func (s *Subscription) Drain(max int) []model.Message { return s.buf.DrainTo(max) }

// Stats returns the observer's buffer statistics.
func (s *Subscription) Stats() BufferStats { return s.buf.Stats() }

// Bus is an explicit observer list with bounded per-observer buffering.
type Bus struct {
	logger *slog.Logger

	initialSize int
	maxSize     int

	mu     sync.RWMutex
	subs   []*Subscription
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
	onDrop    func(observer string, msg model.Message)
}

// BusStats contains bus counters.
type BusStats struct {
	Observers int
	Published int64
	Dropped   int64
}

// NewBus creates a bus whose observers buffer up to maxSize messages each.
func NewBus(initialSize, maxSize int, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:      logger,
		initialSize: initialSize,
		maxSize:     maxSize,
	}
}

// OnDrop registers a hook called for every dropped delivery. Set before
// publishing starts.
func (b *Bus) OnDrop(fn func(observer string, msg model.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe registers a new observer.
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &Subscription{
		name: name,
		buf:  NewBuffer[model.Message](b.initialSize, b.maxSize),
	}
	if b.closed {
		s.buf.Close()
		return s
	}
	b.subs = append(b.subs, s)

	b.logger.Debug("event observer added", "observer", name)
	return s
}

// Unsubscribe removes an observer and closes its buffer.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			s.buf.Close()
			return
		}
	}
}

// Publish delivers msg to every observer without blocking.
func (b *Bus) Publish(msg model.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subs {
		if s.buf.Send(msg) {
			continue
		}
		b.dropped.Add(1)
		b.logger.Warn("event buffer full, dropping",
			"observer", s.name,
			"type", msg.Type(),
		)
		if b.onDrop != nil {
			b.onDrop(s.name, msg)
		}
	}
}

// Close stops delivery and closes every observer buffer.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.buf.Close()
	}
}

// Stats returns bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return BusStats{
		Observers: len(b.subs),
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
	}
}
