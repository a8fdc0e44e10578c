// Package store provides an observable single-value state container.
//
// A Store holds one value of any type. Observers register to hear about
// replacements of that value and immediately receive the current value when
// they subscribe, so late joiners never start from nothing. Writes that
// leave the value unchanged (see WithEqual for what "unchanged" means) are
// suppressed and notify nobody.
//
// Delivery goes through an internal emitter.Emitter, so it shares its
// contract: synchronous, unordered across observers, and isolated against
// observer panics.
package store

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/mohae/deepcopy"

	"github.com/erlorenz/go-observe/emitter"
)

// stateTopic is the single topic the internal emitter delivers on.
const stateTopic = "state"

// Observer is notified whenever the store's value is replaced.
//
// Observers are compared by interface identity: subscribing the same value
// twice keeps a single registration, and Unsubscribe removes exactly that
// value. The dynamic type must be comparable.
type Observer[T any] interface {
	OnUpdate(state T)
}

// Option configures a Store.
type Option[T any] func(*options[T])

type options[T any] struct {
	equal      func(prev, next T) bool
	copyOnRead bool
	onError    func(error)
}

// WithEqual replaces the change detector used by Set and Update. When eq
// reports true the write is treated as a no-op and observers are not
// notified. The default detector is identity-based: pointers, maps, slices,
// channels and functions compare by reference, comparable values compare
// with ==, and anything else always counts as changed.
func WithEqual[T any](eq func(prev, next T) bool) Option[T] {
	return func(o *options[T]) {
		if eq != nil {
			o.equal = eq
		}
	}
}

// WithSharedReads makes Get return the stored value itself instead of a
// deep copy. Callers take over the aliasing hazard: mutating a shared read
// mutates the state every observer sees.
func WithSharedReads[T any]() Option[T] {
	return func(o *options[T]) {
		o.copyOnRead = false
	}
}

// WithErrorHandler replaces the default observer panic reporter, which logs
// through the charmbracelet/log default logger.
func WithErrorHandler[T any](h func(error)) Option[T] {
	return func(o *options[T]) {
		if h != nil {
			o.onError = h
		}
	}
}

func defaultErrorHandler(err error) {
	log.Error("observer failed", "error", err)
}

// Store holds a single observable value. Create instances with New; the
// zero value is not usable. All methods are safe for concurrent use, and no
// lock is held while observers run, so observers may call back into the
// Store.
type Store[T any] struct {
	mu         sync.Mutex
	state      T
	em         *emitter.Emitter[T]
	handles    map[Observer[T]]emitter.Subscription
	equal      func(prev, next T) bool
	copyOnRead bool
	onError    func(error)
}

// New creates a Store holding initial.
func New[T any](initial T, opts ...Option[T]) *Store[T] {
	o := options[T]{
		equal:      identical[T],
		copyOnRead: true,
		onError:    defaultErrorHandler,
	}
	for _, opt := range opts {
		opt(&o)
	}

	em := emitter.New[T](emitter.WithErrorHandler(func(_ string, err error) {
		o.onError(err)
	}))

	return &Store[T]{
		state:      initial,
		em:         em,
		handles:    make(map[Observer[T]]emitter.Subscription),
		equal:      o.equal,
		copyOnRead: o.copyOnRead,
		onError:    o.onError,
	}
}

// Get returns the current value. By default it returns a deep copy so
// callers cannot mutate shared state through it; see WithSharedReads to
// opt out. Notifications are not copied, they hand every observer the
// stored value itself.
func (s *Store[T]) Get() T {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if !s.copyOnRead {
		return state
	}
	return clone(state)
}

// Set replaces the current value and notifies every observer with next.
// When the change detector considers next equal to the current value the
// call is a no-op and nobody is notified.
func (s *Store[T]) Set(next T) {
	if s.commit(next) {
		s.em.Publish(stateTopic, next)
	}
}

func (s *Store[T]) commit(next T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.equal(s.state, next) {
		return false
	}
	s.state = next
	return true
}

// Update atomically derives the next value from the current one. No other
// write can interleave with fn. If fn returns an error the state is left
// untouched, nobody is notified, and the error comes back to the caller.
// Otherwise Update behaves like Set with fn's result and returns it.
func (s *Store[T]) Update(fn func(current T) (T, error)) (T, error) {
	next, changed, err := s.apply(fn)
	if err != nil {
		var zero T
		return zero, err
	}
	if changed {
		s.em.Publish(stateTopic, next)
	}
	return next, nil
}

func (s *Store[T]) apply(fn func(T) (T, error)) (T, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.state)
	if err != nil {
		var zero T
		return zero, false, err
	}
	if s.equal(s.state, next) {
		return next, false, nil
	}
	s.state = next
	return next, true, nil
}

// Subscribe registers o and immediately hands it the current value. A value
// that is already registered is not registered again, but it still receives
// the replay. The returned handle removes the registration and is safe to
// call repeatedly.
//
// The replay's order relative to a concurrent Set or Update is unspecified:
// o may see that write's notification before the replayed value.
func (s *Store[T]) Subscribe(o Observer[T]) emitter.Subscription {
	s.mu.Lock()
	if _, ok := s.handles[o]; !ok {
		s.handles[o] = s.em.Subscribe(stateTopic, &observerAdapter[T]{observer: o})
	}
	state := s.state
	s.mu.Unlock()

	s.replay(o, state)

	return func() { s.Unsubscribe(o) }
}

// SubscribeFunc registers fn as its own distinct observer, with the same
// immediate replay Subscribe performs. Every call creates a new
// registration; keep the handle to remove it.
func (s *Store[T]) SubscribeFunc(fn func(T)) emitter.Subscription {
	return s.Subscribe(&funcObserver[T]{fn: fn})
}

// Unsubscribe removes o. Unknown observers are a no-op.
func (s *Store[T]) Unsubscribe(o Observer[T]) {
	s.mu.Lock()
	cancel, ok := s.handles[o]
	if ok {
		delete(s.handles, o)
	}
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

// Observers reports how many observers are currently registered.
func (s *Store[T]) Observers() int {
	return s.em.Count(stateTopic)
}

// replay delivers the current value to a single observer outside the
// emitter, with the same panic isolation deliveries get.
func (s *Store[T]) replay(o Observer[T], state T) {
	defer func() {
		if r := recover(); r != nil {
			s.onError(fmt.Errorf("observer panic: %v", r))
		}
	}()
	o.OnUpdate(state)
}

// clone deep-copies v, falling back to v itself for values the copier
// cannot reproduce.
func clone[T any](v T) T {
	if c, ok := deepcopy.Copy(v).(T); ok {
		return c
	}
	return v
}

// observerAdapter lets an Observer ride the internal emitter.
type observerAdapter[T any] struct {
	observer Observer[T]
}

func (a *observerAdapter[T]) OnEvent(state T) {
	a.observer.OnUpdate(state)
}

// funcObserver gives a plain function a unique, comparable identity.
type funcObserver[T any] struct {
	fn func(T)
}

func (f *funcObserver[T]) OnUpdate(state T) {
	f.fn(state)
}
