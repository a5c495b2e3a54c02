// Package ui holds view flags that are not tied to the session.
package ui

import "github.com/dmitrijs2005/deskclient/internal/client/observable"

// State is the published UI snapshot.
type State struct {
	CalendarOpen bool
	// HostEmbedded is set when the client runs inside a host application
	// rather than standalone.
	HostEmbedded bool
}

type Store struct {
	value *observable.Value[State]
}

// New creates a store with the calendar closed.
func New(hostEmbedded bool) *Store {
	return &Store{value: observable.New(State{HostEmbedded: hostEmbedded})}
}

func (s *Store) State() State { return s.value.Load() }

func (s *Store) Subscribe(fn observable.Listener[State]) (unsubscribe func()) {
	return s.value.Subscribe(fn)
}

func (s *Store) SetCalendarOpen(open bool) {
	s.value.Update(func(st State) State {
		st.CalendarOpen = open
		return st
	})
}

// ToggleCalendar flips the calendar panel and returns the new value.
func (s *Store) ToggleCalendar() bool {
	st, _ := s.value.Update(func(st State) State {
		st.CalendarOpen = !st.CalendarOpen
		return st
	})
	return st.CalendarOpen
}

func (s *Store) SetHostEmbedded(embedded bool) {
	s.value.Update(func(st State) State {
		st.HostEmbedded = embedded
		return st
	})
}
