package main

import (
	"log"
)

// A frame bound for one player, or every player when to is empty
type outbound struct {
	to    string
	frame []byte
}

// Keeps the route table updated from client state events and delivers outbound frames
// Exits when statechan is closed, closing the tx channel of every session still mounted
func route(routechan <-chan outbound, statechan <-chan ClientState) {
	log.Print("server: router: starting")

	bysession := make(map[uint64]*Session)
	byname := make(map[string]*Session)

	defer func() {
		for _, s := range bysession {
			close(s.tx)
		}
		log.Print("server: route(term): hasta")
	}()

	deliver := func(s *Session, frame []byte) {
		select {
		case s.tx <- frame:
		default:
			droppedcount.Inc()
			log.Printf("server: router(drop): max queue length for %s", s)
		}
	}

	// State messages update the route tables
	// Frame delivery consumes them
	for {
		select {
		case msg := <-routechan:
			if msg.to == "" {
				for _, s := range bysession {
					deliver(s, msg.frame)
				}
				continue
			}

			if s, ok := byname[msg.to]; ok {
				deliver(s, msg.frame)
			} else {
				droppedcount.Inc()
				log.Printf("server: router(drop): no route for player %s", msg.to)
			}

		case state, ok := <-statechan:
			if !ok {
				return
			}

			s := state.session
			switch state.transition {
			case Connect:
				log.Printf("server: route: got session connect %s", s)
				bysession[s.id] = s
				// Newest session for a player takes the name
				byname[s.name] = s

			case Disconnect:
				log.Printf("server: route: got session disconnect %s", s)
				if _, ok := bysession[s.id]; !ok {
					// Didn't find a route for this session... shouldn't happen
					log.Printf("server: route(perm): close no open session %s", s)
					panic("close no open session")
				}
				delete(bysession, s.id)
				if other, ok := byname[s.name]; ok && other.id == s.id {
					delete(byname, s.name)
				}
				// Once the disconnect message is recieved, the session handler has stopped using tx
				close(s.tx)

			default:
				log.Printf("server: route(perm): unhandled client transition state: %d", state.transition)
				panic("unhandled client transition state")
			}
		}
	}
}
