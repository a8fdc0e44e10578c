package emitter_test

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/erlorenz/go-observe/emitter"
)

// recorder counts deliveries and keeps the payloads it saw.
type recorder struct {
	calls    atomic.Int64
	payloads []string
}

func (r *recorder) OnEvent(payload string) {
	r.calls.Add(1)
	r.payloads = append(r.payloads, payload)
}

func TestEmitter(t *testing.T) {
	t.Run("publish reaches every subscriber of the topic", func(t *testing.T) {
		em := emitter.New[string]()
		first := &recorder{}
		second := &recorder{}
		other := &recorder{}

		em.Subscribe("orders", first)
		em.Subscribe("orders", second)
		em.Subscribe("invoices", other)

		em.Publish("orders", "order placed")

		assert.Equal(t, int64(1), first.calls.Load())
		assert.Equal(t, int64(1), second.calls.Load())
		assert.Equal(t, int64(0), other.calls.Load(), "other topics must not hear it")
		assert.Equal(t, []string{"order placed"}, first.payloads)
	})

	t.Run("same subscriber registers once per topic", func(t *testing.T) {
		em := emitter.New[string]()
		rec := &recorder{}

		em.Subscribe("orders", rec)
		em.Subscribe("orders", rec)
		em.Subscribe("orders", rec)

		require.Equal(t, 1, em.Count("orders"))

		em.Publish("orders", "once")
		assert.Equal(t, int64(1), rec.calls.Load())
	})

	t.Run("same subscriber can follow several topics", func(t *testing.T) {
		em := emitter.New[string]()
		rec := &recorder{}

		em.Subscribe("orders", rec)
		em.Subscribe("invoices", rec)

		em.Publish("orders", "a")
		em.Publish("invoices", "b")

		assert.Equal(t, int64(2), rec.calls.Load())
	})

	t.Run("subscribe func registers distinct subscribers", func(t *testing.T) {
		em := emitter.New[int]()
		var calls atomic.Int64
		fn := func(int) { calls.Add(1) }

		em.SubscribeFunc("ticks", fn)
		em.SubscribeFunc("ticks", fn)

		require.Equal(t, 2, em.Count("ticks"))

		em.Publish("ticks", 1)
		assert.Equal(t, int64(2), calls.Load())
	})

	t.Run("subscription removes the registration", func(t *testing.T) {
		em := emitter.New[string]()
		rec := &recorder{}

		cancel := em.Subscribe("orders", rec)
		em.Publish("orders", "before")

		cancel()
		em.Publish("orders", "after")

		assert.Equal(t, int64(1), rec.calls.Load())
		assert.Equal(t, 0, em.Count("orders"))
	})

	t.Run("subscription is idempotent", func(t *testing.T) {
		em := emitter.New[string]()
		keep := &recorder{}
		gone := &recorder{}

		em.Subscribe("orders", keep)
		cancel := em.Subscribe("orders", gone)

		cancel()
		cancel()
		cancel()

		require.Equal(t, 1, em.Count("orders"))

		em.Publish("orders", "still here")
		assert.Equal(t, int64(1), keep.calls.Load())
	})

	t.Run("unsubscribe tolerates unknown topic and absent subscriber", func(t *testing.T) {
		em := emitter.New[string]()
		rec := &recorder{}

		em.Unsubscribe("nope", rec)

		em.Subscribe("orders", rec)
		em.Unsubscribe("orders", &recorder{})

		assert.Equal(t, 1, em.Count("orders"))
	})

	t.Run("publish to an unknown topic is a no-op", func(t *testing.T) {
		em := emitter.New[string]()
		assert.NotPanics(t, func() {
			em.Publish("nope", "into the void")
		})
	})

	t.Run("count tracks subscribe and unsubscribe", func(t *testing.T) {
		em := emitter.New[string]()

		assert.Equal(t, 0, em.Count("orders"))

		first := em.Subscribe("orders", &recorder{})
		em.Subscribe("orders", &recorder{})
		assert.Equal(t, 2, em.Count("orders"))

		first()
		assert.Equal(t, 1, em.Count("orders"))
	})

	t.Run("clear removes named topics only", func(t *testing.T) {
		em := emitter.New[string]()
		em.Subscribe("orders", &recorder{})
		em.Subscribe("orders", &recorder{})
		em.Subscribe("invoices", &recorder{})

		em.Clear("orders")

		assert.Equal(t, 0, em.Count("orders"))
		assert.Equal(t, 1, em.Count("invoices"))
	})

	t.Run("clear without arguments empties the registry", func(t *testing.T) {
		em := emitter.New[string]()
		em.Subscribe("orders", &recorder{})
		em.Subscribe("invoices", &recorder{})

		em.Clear()

		assert.Equal(t, 0, em.Count("orders"))
		assert.Equal(t, 0, em.Count("invoices"))
		assert.Empty(t, em.Topics())
	})

	t.Run("topics lists active topics", func(t *testing.T) {
		em := emitter.New[string]()
		cancel := em.Subscribe("orders", &recorder{})
		em.Subscribe("invoices", &recorder{})

		assert.ElementsMatch(t, []string{"orders", "invoices"}, em.Topics())

		cancel()
		assert.ElementsMatch(t, []string{"invoices"}, em.Topics(), "empty topics disappear")
	})
}

func TestEmitterReentrancy(t *testing.T) {
	t.Run("subscriber can remove itself during delivery", func(t *testing.T) {
		em := emitter.New[string]()
		var calls int
		var cancel emitter.Subscription
		cancel = em.SubscribeFunc("orders", func(string) {
			calls++
			cancel()
		})

		em.Publish("orders", "first")
		em.Publish("orders", "second")

		assert.Equal(t, 1, calls)
		assert.Equal(t, 0, em.Count("orders"))
	})

	t.Run("subscribing during delivery misses the in-flight payload", func(t *testing.T) {
		em := emitter.New[string]()
		late := &recorder{}
		em.SubscribeFunc("orders", func(string) {
			em.Subscribe("orders", late)
		})

		em.Publish("orders", "first")
		assert.Equal(t, int64(0), late.calls.Load(), "snapshot was taken before it joined")

		em.Publish("orders", "second")
		assert.Equal(t, int64(1), late.calls.Load())
	})

	t.Run("subscriber removed mid-pass is skipped", func(t *testing.T) {
		// Delivery order is unspecified, so run the scenario many times:
		// whichever of the pair runs first removes the other, and the
		// removed one must never run afterwards. Exactly one delivery
		// per publish proves the liveness re-check.
		for range 50 {
			em := emitter.New[string]()
			var calls int

			var cancelA, cancelB emitter.Subscription
			cancelA = em.SubscribeFunc("orders", func(string) {
				calls++
				cancelB()
			})
			cancelB = em.SubscribeFunc("orders", func(string) {
				calls++
				cancelA()
			})

			em.Publish("orders", "duel")
			assert.Equal(t, 1, calls)
		}
	})

	t.Run("publishing from inside a delivery recurses without deadlock", func(t *testing.T) {
		em := emitter.New[int]()
		var got []int
		em.SubscribeFunc("chain", func(v int) {
			got = append(got, v)
			if v < 3 {
				em.Publish("chain", v+1)
			}
		})

		em.Publish("chain", 1)

		assert.Equal(t, []int{1, 2, 3}, got)
	})

	t.Run("clearing from inside a delivery does not deadlock", func(t *testing.T) {
		em := emitter.New[string]()
		bystander := &recorder{}
		em.SubscribeFunc("orders", func(string) {
			em.Clear()
		})
		em.Subscribe("orders", bystander)

		em.Publish("orders", "shutdown")

		assert.Equal(t, 0, em.Count("orders"))
		assert.Empty(t, em.Topics())
		assert.LessOrEqual(t, bystander.calls.Load(), int64(1), "skipped when the clear ran first")
	})
}

func TestEmitterPanicIsolation(t *testing.T) {
	t.Run("panicking subscriber does not stop the others", func(t *testing.T) {
		var reported []error
		em := emitter.New[string](emitter.WithErrorHandler(func(topic string, err error) {
			reported = append(reported, err)
		}))

		survivors := &recorder{}
		em.Subscribe("orders", survivors)
		em.SubscribeFunc("orders", func(string) { panic("bad subscriber") })
		em.SubscribeFunc("orders", func(string) { panic("worse subscriber") })

		em.Publish("orders", "boom")

		assert.Equal(t, int64(1), survivors.calls.Load())
		require.Len(t, reported, 2)
		assert.ErrorContains(t, reported[0], "subscriber panic")
	})

	t.Run("handler receives the topic", func(t *testing.T) {
		var gotTopic string
		em := emitter.New[string](emitter.WithErrorHandler(func(topic string, err error) {
			gotTopic = topic
		}))
		em.SubscribeFunc("orders", func(string) { panic("nope") })

		em.Publish("orders", "boom")

		assert.Equal(t, "orders", gotTopic)
	})

	t.Run("panicking subscriber stays registered", func(t *testing.T) {
		var reports int
		em := emitter.New[string](emitter.WithErrorHandler(func(string, error) {
			reports++
		}))
		em.SubscribeFunc("orders", func(string) { panic("always") })

		em.Publish("orders", "one")
		em.Publish("orders", "two")

		assert.Equal(t, 2, reports)
		assert.Equal(t, 1, em.Count("orders"))
	})
}

func TestEmitterConcurrency(t *testing.T) {
	em := emitter.New[int]()
	var delivered atomic.Int64

	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			topic := fmt.Sprintf("topic-%d", i%4)
			for range 100 {
				cancel := em.SubscribeFunc(topic, func(int) {
					delivered.Add(1)
				})
				em.Publish(topic, i)
				em.Count(topic)
				cancel()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// Every goroutine's own subscriber was registered for its publishes,
	// so at minimum those deliveries happened.
	assert.GreaterOrEqual(t, delivered.Load(), int64(800))

	em.Clear()
	assert.Empty(t, em.Topics())
}

func BenchmarkPublish_NoSubscribers(b *testing.B) {
	benchmarkPublish(b, 0)
}

func BenchmarkPublish_1Subscriber(b *testing.B) {
	benchmarkPublish(b, 1)
}

func BenchmarkPublish_10Subscribers(b *testing.B) {
	benchmarkPublish(b, 10)
}

func BenchmarkPublish_100Subscribers(b *testing.B) {
	benchmarkPublish(b, 100)
}

func benchmarkPublish(b *testing.B, numSubscribers int) {
	em := emitter.New[int]()
	for i := 0; i < numSubscribers; i++ {
		em.SubscribeFunc("bench-topic", func(int) {})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		em.Publish("bench-topic", i)
	}
}

func BenchmarkSubscribeUnsubscribe(b *testing.B) {
	em := emitter.New[int]()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cancel := em.SubscribeFunc("bench-topic", func(int) {})
		cancel()
	}
}
