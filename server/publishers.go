package main

import (
	"log"
	"time"
)

type ClientStateSub struct {
	name    string
	subchan chan<- ClientState
}

// Pump the source into the subscribers until it closes
// Subscribers are closed once the source is
func publishstate(statechan <-chan ClientState, subs []ClientStateSub) {
	log.Print("statepublisher: starting")

	defer func() {
		for _, sub := range subs {
			close(sub.subchan)
		}
	}()

	for state := range statechan {
		for _, sub := range subs {
			select {
			case sub.subchan <- state:
			case <-time.After(3 * time.Second):
				log.Printf("statepublisher(panic): timed out sending %d to %s", state.transition, sub.name)
				panic("timed out sending")
			}
		}
	}

	log.Print("statepublisher(term): statechan closed")
}
