package main

import (
	"log"
	"sync"
)

// The server service, the handle every long-lived task is scheduled on
// A task started with Go keeps whatever its closure references alive until it returns
type Service struct {
	done          chan struct{}   // A channel to signal shutdown of the service
	shutdownGroup *sync.WaitGroup // A waitgroup to syncronize graceful shutdown
	stopOnce      sync.Once
}

// Make a new Service
func NewService() *Service {
	return &Service{
		done:          make(chan struct{}),
		shutdownGroup: &sync.WaitGroup{},
	}
}

// Schedule fn as an independent task
// The shutdown group is not released until fn returns
func (s *Service) Go(fn func()) {
	s.shutdownGroup.Add(1)
	go func() {
		defer s.shutdownGroup.Done()
		fn()
	}()
}

// Closed when the service is told to stop
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Report whether Stop has been called
func (s *Service) Stopping() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Stop the service by closing the done channel
// Block until every scheduled task has returned
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		log.Print("server: service: stopping")
		// Close the channel to signal done
		close(s.done)
	})
	// Wait on the waitgroup to empty
	s.shutdownGroup.Wait()
}
