package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Accepted connections leave the acceptor through a Handoff
// OnAccepted takes ownership of conn and must not block
// It can be called concurrently when several acceptors share one handoff
type Handoff interface {
	OnAccepted(conn net.Conn)
}

// An "enum" of the accept loop state
type AcceptState int32

// Of type AcceptState
const (
	Waiting AcceptState = iota
	Dispatching
	Stopped
)

func (st AcceptState) String() string {
	switch st {
	case Waiting:
		return "waiting"
	case Dispatching:
		return "dispatching"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("AcceptState(%d)", int32(st))
}

// Returned from NewAcceptor when the endpoint can't be bound
type BindError struct {
	Endpoint string
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Endpoint, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Bounds of the pause after a transient accept failure
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

type AcceptorOption func(*Acceptor)

// Called once from the accept loop when the listener becomes unusable
// It must not block
func WithFatalHandler(fn func(endpoint string, err error)) AcceptorOption {
	return func(a *Acceptor) {
		a.onfatal = fn
	}
}

// Owns a listening socket and pumps accepted connections into a Handoff
type Acceptor struct {
	svc      *Service
	world    Handoff
	listener net.Listener // exclusively owned, only the accept loop calls Accept
	endpoint string
	onfatal  func(endpoint string, err error)

	state   atomic.Int32
	started atomic.Bool

	quit       chan struct{} // closed by Close, marks the shutdown as orderly
	closeOnce  sync.Once
	listenOnce sync.Once // the listener is closed by Close or fail, whichever comes first
	done      chan struct{} // closed when the accept loop exits

	errmu sync.Mutex
	err   error
}

// Bind and listen on endpoint
// The listener is not serviced until Run is called
func NewAcceptor(svc *Service, world Handoff, endpoint string, opts ...AcceptorOption) (*Acceptor, error) {
	listener, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, &BindError{Endpoint: endpoint, Err: err}
	}
	return newAcceptor(svc, world, listener, opts...), nil
}

func newAcceptor(svc *Service, world Handoff, listener net.Listener, opts ...AcceptorOption) *Acceptor {
	a := &Acceptor{
		svc:      svc,
		world:    world,
		listener: listener,
		endpoint: listener.Addr().String(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	// Close the listener when the service stops so the loop ends in an orderly way
	// An acceptor that never ran is released too
	svc.Go(func() {
		select {
		case <-svc.Done():
			a.Close()
		case <-a.quit:
		case <-a.done:
		}
	})
	return a
}

// Start the accept loop as a task on the service and return immediately
// The task holds the acceptor, callers don't need to keep a reference
// Call at most once, a stopped acceptor can't be restarted
func (a *Acceptor) Run() {
	if !a.started.CompareAndSwap(false, true) {
		log.Printf("server: acceptor: %s: already started, ignoring run", a.endpoint)
		return
	}

	a.svc.Go(a.acceptLoop)
}

func (a *Acceptor) acceptLoop() {
	defer close(a.done)

	listeners.Inc()
	defer listeners.Dec()

	log.Printf("server: acceptor: %s: starting", a.endpoint)

	var delay time.Duration
	for {
		a.state.Store(int32(Waiting))

		// Block waiting for a client connection
		// ends when the listener is closed
		conn, err := a.listener.Accept()
		if err != nil {
			switch classifyAcceptError(err, a.closing()) {
			case acceptClosed:
				log.Printf("server: acceptor(term): %s: listener closed", a.endpoint)
				a.state.Store(int32(Stopped))
				return

			case acceptTransient:
				acceptErrors.WithLabelValues("transient").Inc()
				delay = nextAcceptDelay(delay)
				log.Printf("server: acceptor: %s: accept failed, retrying in %s: %s", a.endpoint, delay, err)

				t := time.NewTimer(delay)
				select {
				case <-t.C:
				case <-a.quit:
					t.Stop()
				}
				continue

			default:
				acceptErrors.WithLabelValues("fatal").Inc()
				a.fail(err)
				return
			}
		}
		delay = 0

		// Send the connection for handling, the acceptor keeps no reference to it
		a.state.Store(int32(Dispatching))
		accepted.Inc()
		a.world.OnAccepted(conn)
	}
}

// Record a fatal accept error and stop for good
func (a *Acceptor) fail(err error) {
	err = fmt.Errorf("accept on %s: %w", a.endpoint, err)

	a.errmu.Lock()
	a.err = err
	a.errmu.Unlock()

	log.Printf("server: acceptor(perm): %s: no longer accepting: %s", a.endpoint, err)
	a.state.Store(int32(Stopped))
	a.closeListener()

	if a.onfatal != nil {
		a.onfatal(a.endpoint, err)
	}
}

func (a *Acceptor) closing() bool {
	select {
	case <-a.quit:
		return true
	default:
		return false
	}
}

// Close the listening socket, the accept loop stops without reporting an error
// Closing after a fatal error already released the socket returns nil
func (a *Acceptor) Close() error {
	a.closeOnce.Do(func() {
		close(a.quit)
	})
	return a.closeListener()
}

// Only the first call closes the listener and reports its error
func (a *Acceptor) closeListener() error {
	var err error
	a.listenOnce.Do(func() {
		err = a.listener.Close()
	})
	return err
}

// The bound address, useful when listening on port 0
func (a *Acceptor) Addr() net.Addr {
	return a.listener.Addr()
}

func (a *Acceptor) State() AcceptState {
	return AcceptState(a.state.Load())
}

// Closed once the accept loop started by Run has exited
func (a *Acceptor) Done() <-chan struct{} {
	return a.done
}

// The fatal error that stopped the loop, nil after an orderly shutdown
func (a *Acceptor) Err() error {
	a.errmu.Lock()
	defer a.errmu.Unlock()
	return a.err
}

type acceptOutcome int

const (
	acceptClosed acceptOutcome = iota
	acceptTransient
	acceptFatal
)

// Per-errno failures that leave the listening socket usable
var transientErrnos = []syscall.Errno{
	syscall.EAGAIN,
	syscall.EINTR,
	syscall.EMFILE,
	syscall.ENFILE,
	syscall.ENOBUFS,
	syscall.ENOMEM,
	syscall.ECONNABORTED,
	syscall.ECONNRESET,
	syscall.EPROTO,
}

func classifyAcceptError(err error, closing bool) acceptOutcome {
	if closing || errors.Is(err, net.ErrClosed) {
		return acceptClosed
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return acceptTransient
	}

	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) && temp.Temporary() {
		return acceptTransient
	}

	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return acceptTransient
		}
	}
	return acceptFatal
}

func nextAcceptDelay(delay time.Duration) time.Duration {
	if delay == 0 {
		return minAcceptDelay
	}
	delay *= 2
	if delay > maxAcceptDelay {
		delay = maxAcceptDelay
	}
	return delay
}
