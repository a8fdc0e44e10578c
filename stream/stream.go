// Package stream bridges callback-based subscriptions to channels.
//
// The bridges subscribe on the caller's behalf and forward every delivery
// into a buffered channel, which is closed when the context is done. A
// publisher is never blocked by a slow channel consumer: when the buffer is
// full the payload is dropped for that consumer and a debug line is logged.
// Size the buffer for the expected burst, or stick to direct subscriptions
// when losing payloads is not acceptable.
package stream

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/erlorenz/go-observe/emitter"
	"github.com/erlorenz/go-observe/feed"
	"github.com/erlorenz/go-observe/store"
)

const defaultBuffer = 16

// Option configures a bridge.
type Option func(*options)

type options struct {
	buffer int
}

// WithBuffer sets the channel capacity. Values below one are ignored; the
// default is 16.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func apply(opts []Option) options {
	o := options{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Events subscribes to topic on em and forwards every payload into the
// returned channel until ctx is done, then unsubscribes and closes it.
func Events[T any](ctx context.Context, em *emitter.Emitter[T], topic string, opts ...Option) <-chan T {
	o := apply(opts)
	p := newPipe[T](o.buffer, func() {
		log.Debug("dropping event, consumer is behind", "topic", topic)
	})

	cancel := em.SubscribeFunc(topic, p.send)
	go func() {
		<-ctx.Done()
		cancel()
		p.close()
	}()
	return p.ch
}

// Updates subscribes to st and forwards every state change into the
// returned channel until ctx is done. The current value is replayed into
// the buffer before Updates returns, so absent concurrent writes it
// arrives first. A write racing the subscription may land before the
// replay; see store.Subscribe.
func Updates[T any](ctx context.Context, st *store.Store[T], opts ...Option) <-chan T {
	o := apply(opts)
	p := newPipe[T](o.buffer, func() {
		log.Debug("dropping update, consumer is behind")
	})

	cancel := st.SubscribeFunc(p.send)
	go func() {
		<-ctx.Done()
		cancel()
		p.close()
	}()
	return p.ch
}

// Filtered subscribes to fd under id for the given categories and forwards
// every matching event into the returned channel until ctx is done. The
// id and category rules are feed.Subscribe's.
func Filtered[T any](ctx context.Context, fd *feed.Feed[T], id string, categories []string, opts ...Option) (<-chan feed.Event[T], error) {
	o := apply(opts)
	p := newPipe[feed.Event[T]](o.buffer, func() {
		log.Debug("dropping feed event, consumer is behind", "subscriber", id)
	})

	cancel, err := fd.Subscribe(id, categories, p.send)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		cancel()
		p.close()
	}()
	return p.ch, nil
}

// pipe serializes sends against the close so a late delivery can never hit
// a closed channel.
type pipe[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
	drop   func()
}

func newPipe[T any](buffer int, drop func()) *pipe[T] {
	return &pipe[T]{
		ch:   make(chan T, buffer),
		drop: drop,
	}
}

func (p *pipe[T]) send(v T) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	select {
	case p.ch <- v:
	default:
		p.drop()
	}
}

func (p *pipe[T]) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}
