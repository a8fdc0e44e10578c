package main

import (
	"log"

	"github.com/erlorenz/go-observe/emitter"
)

func main() {

	em := emitter.New[string]()

	cancel := em.SubscribeFunc("system", func(msg string) {
		log.Printf("%s: %s", "system", msg)
	})

	em.Publish("system", "starting up")
	em.Publish("system", "ready")

	log.Printf("%s: %d", "Subscribers", em.Count("system"))

	cancel()
	em.Publish("system", "nobody hears this")
}
