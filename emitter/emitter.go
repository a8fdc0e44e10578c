// Package emitter provides a synchronous, topic-based notification registry.
//
// An Emitter maps string topics to sets of subscribers and fans every
// published payload out to the current subscribers of that topic, in the
// publisher's goroutine. It's designed to be a dumb delivery layer: the
// store and feed packages build richer semantics on top of it, and users
// can do the same.
//
// Delivery characteristics:
//   - Synchronous: Publish returns only after every subscriber has run.
//   - Unordered: subscribers live in a set; no delivery order is promised.
//   - Isolated: a panicking subscriber never blocks delivery to the rest.
package emitter

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Subscriber receives payloads published to a topic it is registered under.
//
// Subscribers are compared by interface identity: registering the same value
// twice under one topic has no effect beyond the first registration, and
// Unsubscribe removes exactly that value. The dynamic type must be comparable
// (pointer implementations are typical).
type Subscriber[T any] interface {
	OnEvent(payload T)
}

// Subscription removes the registration it was returned for. Calling it
// again, or after Clear already removed the registration, is a no-op. It is
// safe to call from any goroutine, including from inside a delivery.
type Subscription func()

// ErrorHandler receives panics recovered while a subscriber was running.
type ErrorHandler func(topic string, err error)

// Option configures an Emitter.
type Option func(*options)

type options struct {
	onError ErrorHandler
}

// WithErrorHandler replaces the default panic reporter, which logs through
// the charmbracelet/log default logger.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) {
		if h != nil {
			o.onError = h
		}
	}
}

func defaultErrorHandler(topic string, err error) {
	log.Error("subscriber failed", "topic", topic, "error", err)
}

// Emitter is a topic registry. The zero value is not usable; create instances
// with New. All methods are safe for concurrent use, but no lock is held
// while a subscriber runs, so subscribers are free to call back into the
// Emitter.
type Emitter[T any] struct {
	mu      sync.RWMutex
	topics  map[string]map[Subscriber[T]]struct{}
	onError ErrorHandler
}

// New creates an empty Emitter.
func New[T any](opts ...Option) *Emitter[T] {
	o := options{onError: defaultErrorHandler}
	for _, opt := range opts {
		opt(&o)
	}
	return &Emitter[T]{
		topics:  make(map[string]map[Subscriber[T]]struct{}),
		onError: o.onError,
	}
}

// Subscribe registers s under topic, creating the topic on first use.
// The returned Subscription removes exactly this (topic, s) pairing.
func (e *Emitter[T]) Subscribe(topic string, s Subscriber[T]) Subscription {
	e.mu.Lock()
	set, ok := e.topics[topic]
	if !ok {
		set = make(map[Subscriber[T]]struct{})
		e.topics[topic] = set
	}
	set[s] = struct{}{}
	e.mu.Unlock()

	return func() { e.Unsubscribe(topic, s) }
}

// SubscribeFunc registers fn as its own distinct subscriber. Go functions
// carry no comparable identity, so every call creates a new registration even
// for the same fn; keep the Subscription to remove it, or use Subscribe with
// a shared Subscriber value when identity matters.
func (e *Emitter[T]) SubscribeFunc(topic string, fn func(T)) Subscription {
	return e.Subscribe(topic, &funcSubscriber[T]{fn: fn})
}

// funcSubscriber gives a plain function a unique, comparable identity.
type funcSubscriber[T any] struct {
	fn func(T)
}

func (f *funcSubscriber[T]) OnEvent(payload T) {
	f.fn(payload)
}

// Unsubscribe removes s from topic. Absent subscribers, unknown topics and
// repeat calls are all no-ops.
func (e *Emitter[T]) Unsubscribe(topic string, s Subscriber[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()

	set, ok := e.topics[topic]
	if !ok {
		return
	}
	delete(set, s)

	// Drop empty topics so Topics and the map itself stay tidy.
	if len(set) == 0 {
		delete(e.topics, topic)
	}
}

// Publish invokes every subscriber currently registered under topic with
// payload, synchronously, in unspecified order. The set is snapshotted before
// delivery starts, so subscribers may subscribe and unsubscribe freely during
// the pass: anyone removed mid-pass is skipped, anyone added waits for the
// next publish. Publishing to a topic nobody subscribed to is a no-op.
func (e *Emitter[T]) Publish(topic string, payload T) {
	e.mu.RLock()
	set := e.topics[topic]
	if len(set) == 0 {
		e.mu.RUnlock()
		return
	}
	snapshot := make([]Subscriber[T], 0, len(set))
	for s := range set {
		snapshot = append(snapshot, s)
	}
	e.mu.RUnlock()

	for _, s := range snapshot {
		// Skip subscribers that were removed while this publish was running.
		if !e.contains(topic, s) {
			continue
		}
		e.deliver(topic, s, payload)
	}
}

func (e *Emitter[T]) contains(topic string, s Subscriber[T]) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.topics[topic][s]
	return ok
}

// deliver runs a single subscriber, converting a panic into an ErrorHandler
// report so the rest of the pass still happens.
func (e *Emitter[T]) deliver(topic string, s Subscriber[T], payload T) {
	defer func() {
		if r := recover(); r != nil {
			e.onError(topic, fmt.Errorf("subscriber panic: %v", r))
		}
	}()
	s.OnEvent(payload)
}

// Count reports how many subscribers topic currently has, 0 when the topic
// was never subscribed to or has been cleared.
func (e *Emitter[T]) Count(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.topics[topic])
}

// Clear removes every subscriber of the named topics, or of all topics when
// none are named. Outstanding Subscriptions for the cleared topics become
// no-ops.
func (e *Emitter[T]) Clear(topics ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(topics) == 0 {
		e.topics = make(map[string]map[Subscriber[T]]struct{})
		return
	}
	for _, topic := range topics {
		delete(e.topics, topic)
	}
}

// Topics returns the names of every topic that currently has at least one
// subscriber, in unspecified order.
func (e *Emitter[T]) Topics() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.topics))
	for topic := range e.topics {
		names = append(names, topic)
	}
	return names
}
