package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// ActorState is a named receive function.
type ActorState struct {
	Name    string
	Receive actor.ReceiveFunc
}

// ActorWithStates wraps actor.Behavior and tracks the names of the stacked
// states, so an actor can report where it is.
type ActorWithStates struct {
	behavior actor.Behavior
	names    []string
}

func NewActorWithStates() *ActorWithStates {
	return &ActorWithStates{
		behavior: actor.NewBehavior(),
	}
}

func (s *ActorWithStates) Receive(ctx actor.Context) {
	s.behavior.Receive(ctx)
}

// Become replaces the whole stack.
func (s *ActorWithStates) Become(state ActorState) {
	s.behavior.Become(state.Receive)
	s.names = []string{state.Name}
}

func (s *ActorWithStates) BecomeStacked(state ActorState) {
	s.behavior.BecomeStacked(state.Receive)
	s.names = append(s.names, state.Name)
}

func (s *ActorWithStates) UnbecomeStacked() {
	s.behavior.UnbecomeStacked()
	if len(s.names) > 0 {
		s.names = s.names[:len(s.names)-1]
	}
}

// Current returns the name of the active state, or "" before the first Become.
func (s *ActorWithStates) Current() string {
	if len(s.names) == 0 {
		return ""
	}
	return s.names[len(s.names)-1]
}
