package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishState_FansOutInOrder(t *testing.T) {
	statechan := make(chan ClientState)
	first := make(chan ClientState, 4)
	second := make(chan ClientState, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		publishstate(statechan, []ClientStateSub{
			{name: "first", subchan: first},
			{name: "second", subchan: second},
		})
	}()

	s := pipeSession(t, 1, "alice", 1)
	statechan <- state(Connect, s)
	statechan <- state(Disconnect, s)
	close(statechan)
	<-done

	for _, sub := range []chan ClientState{first, second} {
		var got []Transition
		for st := range sub {
			got = append(got, st.transition)
		}
		assert.Equal(t, []Transition{Connect, Disconnect}, got)
	}
}
