package main

import (
	"log"
)

// A pool that delivers free player slots when read
func newSlotPool(count int) chan int {
	pool := make(chan int, count)
	for i := 0; i < count; i++ {
		pool <- i
	}

	slotusage.WithLabelValues("free").Add(float64(count))
	return pool
}

// Take a slot without waiting, false when every slot is allocated
func takeSlot(pool <-chan int) (int, bool) {
	select {
	case slot := <-pool:
		slotusage.WithLabelValues("allocated").Inc()
		slotusage.WithLabelValues("free").Dec()
		return slot, true
	default:
		return -1, false
	}
}

// Returns slots to the pool when a session disconnects
// Exits when statechan is closed, removing the free slots from the gauge
func runslots(pool chan<- int, statechan <-chan ClientState) {
	alloccount := slotusage.WithLabelValues("allocated")
	freecount := slotusage.WithLabelValues("free")

	log.Printf("server: slots: starting with %d slots", cap(pool))

	for state := range statechan {
		// When a session disconnects, add its slot back to the pool
		if state.transition != Disconnect || state.session.slot < 0 {
			continue
		}

		select {
		case pool <- state.session.slot:
			log.Printf("server: slots: recovered slot %d from %s, %d free", state.session.slot, state.session, len(pool))
			freecount.Inc()
			alloccount.Dec()
		default:
			log.Printf("server: slots(perm): pool full returning slot %d from %s", state.session.slot, state.session)
			panic("slot returned to a full pool")
		}
	}
	// Every session has disconnected by now, take this pool out of the gauge
	freecount.Sub(float64(len(pool)))
	log.Print("server: slots(term): statechan closed")
}
