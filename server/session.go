package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"
)

const protocolVersion = "0.1.0"

// An "enum" of the transition state
type Transition int

// Of type Transition
const (
	_ Transition = iota
	Connect
	Disconnect
)

// Couples a transition state with the target session for delivery on the client state channel
// The connect message is sent once the session is admitted
// The disconnect message is sent from a deferral when the session handler exits
type ClientState struct {
	happened   time.Time
	transition Transition
	session    *Session
}

// Defines the state of one accepted connection
// Birthed in World.OnAccepted and used in messages sent for route updates and slot reaping
type Session struct {
	id           uint64 // A unique identifier for this connection
	name         string // player id from the register command
	slot         int
	remote       net.Addr
	connected    time.Time
	disconnected time.Time
	conn         net.Conn
	// The tx pump writes frames from this channel out to the socket
	// The router closes it after the session disconnects
	tx      chan []byte
	control chan string // A channel to send control messages to the session handler
}

func newSession(id uint64, conn net.Conn, queue int) *Session {
	return &Session{
		id:      id,
		slot:    -1,
		remote:  conn.RemoteAddr(),
		conn:    conn,
		tx:      make(chan []byte, queue),
		control: make(chan string, 1),
	}
}

func (s *Session) ID() uint64 {
	return s.id
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) RemoteAddr() net.Addr {
	return s.remote
}

func (s *Session) String() string {
	return fmt.Sprintf("%s-%#x", s.name, s.id)
}

// Frames sent by players, only the register command is read by the server
// Every frame after the handshake, respawn commands included, goes to the FrameHandler as is
type Command struct {
	Register string `json:"register,omitempty"`
	Respawn  bool   `json:"respawn,omitempty"` // acted on by the FrameHandler
}

type Frame struct {
	Command *Command        `json:"command,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
}

// Sent as the first frame to an admitted player
type Welcome struct {
	Time    string `json:"time"`
	Version string `json:"version"`
	Server  string `json:"server"`
	Session uint64 `json:"session"`
	Player  string `json:"player"`
}

type Notice struct {
	Welcome *Welcome `json:"welcome,omitempty"`
	Error   string   `json:"error,omitempty"`
	Message string   `json:"message,omitempty"`
}

var errNotRegister = errors.New("first frame is not a register command")

func parseRegister(frame []byte) (string, error) {
	var f Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return "", fmt.Errorf("decoding register frame: %w", err)
	}
	if f.Command == nil {
		return "", errNotRegister
	}
	name := strings.TrimSpace(f.Command.Register)
	if name == "" {
		return "", errNotRegister
	}
	return name, nil
}

// Session handler, runs as its own task for every accepted connection
func (w *World) serve(s *Session) {
	// Close connection when handler exits
	defer s.conn.Close()

	// Stops the rx pump if it's blocked handing us a frame
	quit := make(chan struct{})
	defer close(quit)

	log.Printf("server: conn: %s starting session %#x", s.remote, s.id)

	if w.cfg.TOS != 0 {
		if err := ipv4.NewConn(s.conn).SetTOS(w.cfg.TOS); err != nil {
			log.Printf("server: conn: %s unable to set TOS %#x: %s", s.remote, w.cfg.TOS, err)
		}
	}

	// Producer that pumps the read-side of the connection into the rx channel
	// Exits on failing read after deferred conn.Close() or the client hanging up
	rxchan := make(chan []byte)
	w.svc.Go(func() {
		connrx(s.conn, rxchan, quit, w.cfg.IdleTimeout, w.cfg.MaxFrame)
	})

	// Application-Layer Handshake
	// Read first frame from client with a timeout
	timeout := time.NewTimer(w.cfg.HandshakeTimeout)
	defer timeout.Stop()
	select {
	case frame, ok := <-rxchan:
		if !ok {
			failcount.WithLabelValues("hangup").Inc()
			log.Printf("server: conn(term): %s closed before registering", s.remote)
			return
		}
		name, err := parseRegister(frame)
		if err != nil {
			failcount.WithLabelValues("handshake").Inc()
			log.Printf("server: conn(term): %s bad registration: %s", s.remote, err)
			w.reject(s, "expected register command")
			return
		}
		s.name = name

	case <-timeout.C:
		failcount.WithLabelValues("timeout").Inc()
		log.Printf("server: conn(term): %s timed out waiting for registration", s.remote)
		return

	case <-w.svc.Done():
		return

	case <-w.closed:
		return
	}

	// Admission, one slot per player
	slot, ok := w.acquireSlot()
	if !ok {
		failcount.WithLabelValues("full").Inc()
		log.Printf("server: conn(term): %s rejected, no free slots", s)
		w.reject(s, "server full")
		return
	}
	s.slot = slot
	s.connected = time.Now()

	// The welcome is the first frame the tx pump writes
	welcome, err := json.Marshal(Notice{Welcome: &Welcome{
		Time:    s.connected.UTC().Format(time.RFC3339),
		Version: protocolVersion,
		Server:  w.id,
		Session: s.id,
		Player:  s.name,
	}})
	if err != nil {
		log.Printf("server: conn: error encoding welcome: %s", err)
	} else {
		s.tx <- welcome
	}

	// A channel to signal a write error to the client
	writeerr := make(chan bool, 1)

	// Pipe that pumps frames from the tx channel into the connection
	// Exits after `close(s.tx)` by the router
	txdone := make(chan struct{})
	w.svc.Go(func() {
		defer close(txdone)
		conntx(s.tx, s.conn, writeerr, w.cfg.WriteTimeout)
	})

	// Defer session cleanup to when leaving the handler
	defer func() {
		// Record disconnect time in session
		s.disconnected = time.Now()
		disconnectcount.Inc()

		// Send disconnect client state change
		w.clientstate <- ClientState{
			happened:   s.disconnected,
			transition: Disconnect,
			session:    s,
		}

		// Let queued frames drain before the connection is closed
		<-txdone
	}()

	// Send client connect state change
	// This mounts s.tx in the router and the session now receives frames
	connectcount.Inc()
	w.clientstate <- ClientState{
		happened:   s.connected,
		transition: Connect,
		session:    s,
	}

	limit := rate.Inf
	if w.cfg.InputRate > 0 {
		limit = rate.Limit(w.cfg.InputRate)
	}
	limiter := rate.NewLimiter(limit, w.cfg.InputBurst)

	// Forever select until a read or write fails, the server stops, or a control command ends the session
	for {
		select {
		case <-w.svc.Done():
			log.Printf("server: conn(term): %s got done signal", s)
			return

		case <-w.closed:
			log.Printf("server: conn(term): %s world closed", s)
			return

		case <-writeerr:
			log.Printf("server: conn(term): %s encountered write error", s)
			return

		case frame, ok := <-rxchan:
			if !ok {
				log.Printf("server: conn(term): %s rx closed", s)
				return
			}

			if !limiter.Allow() {
				framecount.WithLabelValues("limited").Inc()
				continue
			}
			framecount.WithLabelValues("accepted").Inc()

			if w.onframe != nil {
				w.onframe(s, frame)
			}

		case msg := <-s.control:
			// Leave the loop if we are to disconnect
			if msg == "disconnect" {
				log.Printf("server: conn(term): %s received disconnect control", s)
				return
			}
		}
	}
}

// Write a final error frame to a session that never got a tx pump
func (w *World) reject(s *Session, reason string) {
	buf, err := json.Marshal(Notice{Error: reason})
	if err != nil {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout))
	if _, err := s.conn.Write(append(buf, '\n')); err != nil {
		log.Printf("server: conn: %s error sending rejection: %s", s.remote, err)
	}
}
