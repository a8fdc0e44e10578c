package emitter_test

import (
	"fmt"

	"github.com/erlorenz/go-observe/emitter"
)

func ExampleEmitter() {
	em := emitter.New[string]()

	cancel := em.SubscribeFunc("greetings", func(msg string) {
		fmt.Println("received:", msg)
	})

	em.Publish("greetings", "hello")
	em.Publish("greetings", "howdy")

	cancel()
	em.Publish("greetings", "anyone there?")

	fmt.Println("subscribers:", em.Count("greetings"))
	// Output:
	// received: hello
	// received: howdy
	// subscribers: 0
}

func ExampleEmitter_Subscribe() {
	em := emitter.New[int]()
	audit := &auditLog{}

	// Registering the same subscriber value again is a no-op.
	em.Subscribe("payments", audit)
	em.Subscribe("payments", audit)

	em.Publish("payments", 100)
	fmt.Println("entries:", audit.entries)
	// Output:
	// entries: 1
}

type auditLog struct{ entries int }

func (a *auditLog) OnEvent(payload int) { a.entries++ }
