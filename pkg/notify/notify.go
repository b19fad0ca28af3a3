// Package notify carries change notifications from the analyzers to whoever
// subscribed: alerting, dashboards pushing live updates, tests.
//
// Publishing never blocks the writer. Observers registered with Subscribe are
// invoked synchronously and must return quickly; channel subscribers get a
// bounded buffer and lose events when it is full.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/decisionlens/pkg/observability"
)

// Kind identifies what was written.
type Kind string

const (
	UsageRecorded     Kind = "usage.recorded"
	ExecutionRecorded Kind = "execution.recorded"
	RequestRecorded   Kind = "request.recorded"
	SessionEnded      Kind = "session.ended"
)

// Event is one change notification. Payload is a copy of the record that
// was written; observers may keep it.
type Event struct {
	ID         string
	Kind       Kind
	OccurredAt time.Time
	Payload    interface{}
}

// New builds an event with a fresh id.
func New(kind Kind, at time.Time, payload interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		OccurredAt: at,
		Payload:    payload,
	}
}

// Publisher is what the analyzers write to.
type Publisher interface {
	Publish(Event)
}

// Observer receives events.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) { f(e) }

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(Event) {}

type subscription struct {
	name     string
	observer Observer
	kinds    map[Kind]bool
}

func (s *subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Bus fans events out to subscribers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscription
	nextID  uint64
	log     *logrus.Entry
	metrics *observability.Metrics
}

// NewBus creates an empty bus. log and metrics may be nil.
func NewBus(log *logrus.Entry, metrics *observability.Metrics) *Bus {
	if log == nil {
		log = observability.Discard()
	}
	return &Bus{
		subs:    make(map[uint64]*subscription),
		log:     log,
		metrics: metrics,
	}
}

// Subscribe registers an observer for the given kinds (all kinds when none
// are given). The returned function removes the subscription.
func (b *Bus) Subscribe(name string, o Observer, kinds ...Kind) func() {
	sub := &subscription{name: name, observer: o, kinds: make(map[Kind]bool, len(kinds))}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeChannel registers a bounded channel subscriber. When the buffer
// is full new events are dropped and counted. The returned function removes
// the subscription and closes the channel.
func (b *Bus) SubscribeChannel(name string, size int, kinds ...Kind) (<-chan Event, func()) {
	if size <= 0 {
		size = 1
	}
	ch := make(chan Event, size)
	var closed bool
	var mu sync.Mutex

	unsubscribe := b.Subscribe(name, ObserverFunc(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- e:
		default:
			b.metrics.RecordDropped(name)
			b.log.WithFields(logrus.Fields{
				"subscriber": name,
				"kind":       e.Kind,
			}).Warn("notification dropped, subscriber buffer full")
		}
	}), kinds...)

	return ch, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
}

// Publish delivers e to every interested subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Kind) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	b.metrics.RecordPublished(string(e.Kind))
	for _, s := range targets {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s *subscription, e Event) {
	defer observability.RecoverPanic(b.log.WithField("subscriber", s.name), "notification observer")
	s.observer.Observe(e)
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
