// Package feed provides a categorized event feed with an append-only log.
//
// A Feed delivers events to named subscribers that declared an interest in
// the event's category (or in CategoryAll, which matches everything). Every
// published event receives a process-unique, strictly increasing ID and is
// appended to the feed's log before any handler runs, so the log records
// what was published even when every handler fails.
//
// Delivery goes through an internal emitter.Emitter and shares its contract:
// synchronous, unordered across subscribers, isolated against handler panics.
package feed

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/erlorenz/go-observe/emitter"
)

// CategoryAll subscribes to every category.
const CategoryAll = "all"

// feedTopic is the single topic the internal emitter delivers on.
const feedTopic = "events"

var (
	// ErrNoCategories is returned by Subscribe when no categories are given.
	ErrNoCategories = errors.New("feed: at least one category is required")

	// ErrNilHandler is returned by Subscribe when the handler is nil.
	ErrNilHandler = errors.New("feed: handler must not be nil")
)

// Event is a single published entry.
type Event[T any] struct {
	// ID is unique within the feed, strictly increasing, starting at 1.
	ID int64

	// Category is the label the event was published under.
	Category string

	// Payload is the value handed to Publish.
	Payload T

	// PublishedAt records when the ID was assigned.
	PublishedAt time.Time
}

// Option configures a Feed.
type Option func(*options)

type options struct {
	now     func() time.Time
	onError func(id string, err error)
}

// WithNow replaces the clock used to stamp events. Tests use this to get
// deterministic PublishedAt values.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithErrorHandler replaces the default handler panic reporter, which logs
// the subscriber name through the charmbracelet/log default logger.
func WithErrorHandler(h func(id string, err error)) Option {
	return func(o *options) {
		if h != nil {
			o.onError = h
		}
	}
}

func defaultErrorHandler(id string, err error) {
	log.Error("feed handler failed", "subscriber", id, "error", err)
}

// Feed fans categorized events out to named subscribers and keeps the log
// of everything published. Create instances with New; the zero value is not
// usable. All methods are safe for concurrent use, and no lock is held while
// handlers run, so handlers may call back into the Feed.
type Feed[T any] struct {
	mu      sync.Mutex
	em      *emitter.Emitter[Event[T]]
	subs    map[string]*registration[T]
	history []Event[T]
	nextID  int64
	now     func() time.Time
	onError func(id string, err error)
}

type registration[T any] struct {
	sub    *interestSubscriber[T]
	cancel emitter.Subscription
}

// New creates an empty Feed.
func New[T any](opts ...Option) *Feed[T] {
	o := options{
		now:     time.Now,
		onError: defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(&o)
	}

	onError := o.onError
	em := emitter.New[Event[T]](emitter.WithErrorHandler(func(_ string, err error) {
		onError("", err)
	}))

	return &Feed[T]{
		em:      em,
		subs:    make(map[string]*registration[T]),
		now:     o.now,
		onError: onError,
	}
}

// Subscribe registers fn under id for the given categories. Passing
// CategoryAll as a category matches every event. An empty id gets a
// generated UUID; a taken id replaces the previous registration, so a
// subscriber can retune its interests without unsubscribing first.
//
// The returned handle removes exactly this registration: after a
// replacement, stale handles are no-ops.
func (f *Feed[T]) Subscribe(id string, categories []string, fn func(Event[T])) (emitter.Subscription, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	if len(categories) == 0 {
		return nil, ErrNoCategories
	}
	if id == "" {
		id = uuid.NewString()
	}

	interests := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		interests[c] = struct{}{}
	}

	reg := &registration[T]{
		sub: &interestSubscriber[T]{
			id:        id,
			interests: interests,
			fn:        fn,
			onError:   f.onError,
		},
	}

	f.mu.Lock()
	if prev, ok := f.subs[id]; ok {
		prev.cancel()
	}
	reg.cancel = f.em.Subscribe(feedTopic, reg.sub)
	f.subs[id] = reg
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		if cur, ok := f.subs[id]; ok && cur == reg {
			delete(f.subs, id)
		}
		f.mu.Unlock()
		reg.cancel()
	}, nil
}

// Unsubscribe removes the registration under id. Unknown ids are a no-op.
func (f *Feed[T]) Unsubscribe(id string) {
	f.mu.Lock()
	reg, ok := f.subs[id]
	if ok {
		delete(f.subs, id)
	}
	f.mu.Unlock()

	if ok {
		reg.cancel()
	}
}

// Publish appends an event for category to the log and delivers it to every
// interested subscriber, synchronously. The event comes back to the caller
// with its assigned ID and timestamp. Events keep their ID and log position
// even when no subscriber wants them or every handler panics.
func (f *Feed[T]) Publish(category string, payload T) Event[T] {
	f.mu.Lock()
	f.nextID++
	ev := Event[T]{
		ID:          f.nextID,
		Category:    category,
		Payload:     payload,
		PublishedAt: f.now(),
	}
	f.history = append(f.history, ev)
	f.mu.Unlock()

	f.em.Publish(feedTopic, ev)
	return ev
}

// Published returns a copy of the log, oldest first.
func (f *Feed[T]) Published() []Event[T] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.history)
}

// SubscriberCount reports how many subscribers are currently registered.
func (f *Feed[T]) SubscriberCount() int {
	return f.em.Count(feedTopic)
}

// Subscribers returns the ids of the current registrations, in unspecified
// order. Generated ids show up here.
func (f *Feed[T]) Subscribers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]string, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	return ids
}

// interestSubscriber filters the feed down to its categories and shields the
// feed from its handler's panics, reporting them with the subscriber id.
type interestSubscriber[T any] struct {
	id        string
	interests map[string]struct{}
	fn        func(Event[T])
	onError   func(id string, err error)
}

func (s *interestSubscriber[T]) OnEvent(ev Event[T]) {
	if !s.matches(ev.Category) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.onError(s.id, fmt.Errorf("handler panic: %v", r))
		}
	}()
	s.fn(ev)
}

func (s *interestSubscriber[T]) matches(category string) bool {
	if _, ok := s.interests[CategoryAll]; ok {
		return true
	}
	_, ok := s.interests[category]
	return ok
}
