package main

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Session settings shared by every connection the world owns
type WorldConfig struct {
	MaxPlayers       int           // slots, connections past this are rejected after registering
	HandshakeTimeout time.Duration // time allowed for the register command
	IdleTimeout      time.Duration // a session with no inbound frame for this long is closed
	WriteTimeout     time.Duration
	MaxFrame         int     // bytes, longer frames end the session
	InputRate        float64 // inbound frames per second, zero for unlimited
	InputBurst       int
	QueueLength      int // outbound frames buffered per session
	TOS              int // IP type of service set on accepted sockets, zero leaves it alone
}

const (
	defaultMaxPlayers       = 64
	defaultHandshakeTimeout = 10 * time.Second
	defaultIdleTimeout      = 2 * time.Minute
	defaultWriteTimeout     = 5 * time.Second
	defaultMaxFrame         = 4096
	defaultInputRate        = 60
	defaultInputBurst       = 30
	defaultQueueLength      = 64
)

func (c WorldConfig) withDefaults() WorldConfig {
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = defaultMaxPlayers
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.IdleTimeout < 0 {
		c.IdleTimeout = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = defaultMaxFrame
	}
	if c.InputRate < 0 {
		c.InputRate = 0
	}
	if c.InputBurst <= 0 {
		c.InputBurst = defaultInputBurst
	}
	if c.QueueLength <= 0 {
		c.QueueLength = defaultQueueLength
	}
	return c
}

// Called from the session task for every inbound frame that passed the rate limit
type FrameHandler func(s *Session, frame []byte)

type WorldOption func(*World)

func WithFrameHandler(fn FrameHandler) WorldOption {
	return func(w *World) {
		w.onframe = fn
	}
}

// The shared server state every acceptor hands connections to
// Construct it before any acceptor and close it after they stopped
type World struct {
	svc     *Service
	cfg     WorldConfig
	id      string
	onframe FrameHandler

	sessionSeq  atomic.Uint64
	sessionsMu  sync.Mutex
	sessions    map[uint64]*Session
	clientGroup sync.WaitGroup // A waitgroup to syncronize graceful session shutdown

	clientstate chan ClientState
	slots       chan int
	routechan   chan outbound
	reportchan  chan chan<- Connections
	contrackend chan struct{}
	pumps       sync.WaitGroup

	closed    chan struct{}
	closeOnce sync.Once
}

func NewWorld(svc *Service, cfg WorldConfig, opts ...WorldOption) *World {
	cfg = cfg.withDefaults()

	w := &World{
		svc:         svc,
		cfg:         cfg,
		id:          newServerID(),
		sessions:    make(map[uint64]*Session),
		clientstate: make(chan ClientState),
		slots:       newSlotPool(cfg.MaxPlayers),
		routechan:   make(chan outbound, cfg.QueueLength),
		reportchan:  make(chan chan<- Connections),
		contrackend: make(chan struct{}),
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	// Every subscriber is mounted before the first state is published
	routestate := make(chan ClientState)
	contrackstate := make(chan ClientState)
	slotstate := make(chan ClientState)

	w.pumps.Add(4)

	// Publish clientstate
	// Exits when clientstate closes in Close
	go func() {
		defer w.pumps.Done()
		publishstate(w.clientstate, []ClientStateSub{
			// Contrack goes last, a session in its report has a route
			// and one missing from it is releasing its slot
			{name: "router", subchan: routestate},
			{name: "slots", subchan: slotstate},
			{name: "contrack", subchan: contrackstate},
		})
	}()

	go func() {
		defer w.pumps.Done()
		defer close(w.contrackend)
		contrack(contrackstate, w.reportchan)
	}()

	go func() {
		defer w.pumps.Done()
		route(w.routechan, routestate)
	}()

	go func() {
		defer w.pumps.Done()
		runslots(w.slots, slotstate)
	}()

	log.Printf("server: world %s: %d slots", w.id, cfg.MaxPlayers)
	return w
}

// Take ownership of an accepted connection and start its session task
// Never blocks, safe to call from several acceptors at once
func (w *World) OnAccepted(conn net.Conn) {
	w.sessionsMu.Lock()
	select {
	case <-w.closed:
		w.sessionsMu.Unlock()
		log.Printf("server: world: %s refused, world closed", conn.RemoteAddr())
		conn.Close()
		return
	default:
	}

	s := newSession(w.sessionSeq.Add(1), conn, w.cfg.QueueLength)
	w.sessions[s.id] = s
	w.clientGroup.Add(1)
	w.sessionsMu.Unlock()

	log.Printf("server: %s connected", s.remote)

	w.svc.Go(func() {
		defer w.untrack(s)
		w.serve(s)
	})
}

func (w *World) untrack(s *Session) {
	w.sessionsMu.Lock()
	delete(w.sessions, s.id)
	w.sessionsMu.Unlock()
	w.clientGroup.Done()
}

// Number of connections with a running session task, registered or not
func (w *World) SessionCount() int {
	w.sessionsMu.Lock()
	defer w.sessionsMu.Unlock()
	return len(w.sessions)
}

func (w *World) acquireSlot() (int, bool) {
	return takeSlot(w.slots)
}

// Queue a frame for one player
// False when the router queue is full or the world is closed, delivery is never guaranteed
func (w *World) Send(player string, frame []byte) bool {
	if player == "" {
		return false
	}
	return w.enqueue(outbound{to: player, frame: frame})
}

// Queue a frame for every admitted player
func (w *World) Broadcast(frame []byte) bool {
	return w.enqueue(outbound{frame: frame})
}

func (w *World) enqueue(msg outbound) bool {
	select {
	case <-w.closed:
		return false
	default:
	}

	select {
	case w.routechan <- msg:
		return true
	default:
		droppedcount.Inc()
		return false
	}
}

// Report of the admitted sessions, oldest first
func (w *World) Sessions() Connections {
	respchan := make(chan Connections, 1)
	select {
	case w.reportchan <- respchan:
		return <-respchan
	case <-w.contrackend:
		return nil
	}
}

// Stop every session and the background pumps
// Blocks until they have all exited
func (w *World) Close() {
	w.closeOnce.Do(func() {
		w.sessionsMu.Lock()
		close(w.closed)
		w.sessionsMu.Unlock()

		// Wait on the session waitgroup, nothing publishes state after this
		w.clientGroup.Wait()
		log.Print("server: world: client group done")

		// No more client states are sent, signals the router, contrack, and slots to end
		close(w.clientstate)
		w.pumps.Wait()
		log.Printf("server: world %s: closed", w.id)
	})
}
