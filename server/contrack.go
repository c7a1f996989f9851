package main

import (
	"encoding/json"
	"log"
	"sort"
	"time"
)

// Represents a tracked session in a report
type Connection struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Remote    string    `json:"remote"`
	Connected time.Time `json:"connected"`
	Closing   bool      `json:"closing"`
}

// A list of connections!
type Connections []Connection

// Marshal function to format Connection Time fields as ISO8601 json strings
func (c Connection) MarshalJSON() ([]byte, error) {
	type Alias Connection
	return json.Marshal(&struct {
		Alias
		Connected string `json:"connected"`
	}{
		Alias:     (Alias)(c),
		Connected: c.Connected.Format(time.RFC3339),
	})
}

func report(s *Session, closing bool) Connection {
	return Connection{
		ID:        s.id,
		Name:      s.name,
		Remote:    s.remote.String(),
		Connected: s.connected,
		Closing:   closing,
	}
}

// Tracks session lifetimes and keeps one open session per player
// Exits when statechan is closed
func contrack(statechan <-chan ClientState, reportchan <-chan chan<- Connections) {
	log.Print("server: contrack: starting")

	contrack := make(map[string]*Session) // Like open
	deltrack := make(map[uint64]*Session) // Like close_wait

	opencount := clientcount.WithLabelValues("open")
	closingcount := clientcount.WithLabelValues("closing")
	defer func() {
		opencount.Sub(float64(len(contrack)))
		closingcount.Sub(float64(len(deltrack)))
	}()

	for {
		select {
		case state, ok := <-statechan:
			if !ok {
				log.Print("server: contrack(term): statechan closed")
				return
			}

			switch state.transition {
			case Connect:
				// See if we have an existing session for this player
				if other, ok := contrack[state.session.name]; ok {
					// Enforce single session per player by disconnecting the older one
					// The control channel holds one message, a full channel means it is already leaving
					select {
					case other.control <- "disconnect":
						log.Printf("server: contrack: enforce disconnect on %s", other)
						enforcecount.Inc()
					default:
					}

					// Save the disconnecting session into the deltrack list to await its final goodbye
					deltrack[other.id] = other
					opencount.Dec()
					closingcount.Inc()
				}

				log.Printf("server: contrack: tracking %s", state.session)
				contrack[state.session.name] = state.session
				opencount.Inc()

			case Disconnect:
				if _, ok := deltrack[state.session.id]; ok {
					// If we are already waiting for disconnection
					// just remove it from the deltrack list
					log.Printf("server: contrack: deltrack closed %s", state.session)
					delete(deltrack, state.session.id)
					closingcount.Dec()
				} else if s, ok := contrack[state.session.name]; ok && s.id == state.session.id {
					log.Printf("server: contrack: closed last open for %s", state.session)
					delete(contrack, state.session.name)
					opencount.Dec()
				} else {
					log.Printf("server: contrack(perm): got disconnect with zero tracking matches %s", state.session)
					panic("zero tracking matches")
				}

			default:
				log.Printf("server: contrack(perm): unhandled client transition: %d", state.transition)
				panic("unhandled client state transition")
			}

		case respchan := <-reportchan:
			connections := make(Connections, 0, len(contrack)+len(deltrack))
			for _, s := range contrack {
				connections = append(connections, report(s, false))
			}
			for _, s := range deltrack {
				connections = append(connections, report(s, true))
			}
			sort.Slice(connections, func(i, j int) bool {
				return connections[i].ID < connections[j].ID
			})
			respchan <- connections
		}
	}
}
