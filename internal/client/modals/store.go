// Package modals tracks which modal dialogs are open and the entity each
// one acts on.
package modals

import "github.com/dmitrijs2005/deskclient/internal/client/observable"

// Key identifies a modal.
type Key string

const (
	DeleteProject Key = "deleteProject"
	RenameProject Key = "renameProject"
	CreateProject Key = "createProject"
)

// State maps open modals to their payload. Closed modals are absent.
// Published states are never modified.
type State map[Key]any

// Store is the modal registry. The zero value is not usable; use New.
type Store struct {
	value *observable.Value[State]
}

func New() *Store {
	return &Store{value: observable.New(State{})}
}

func (s *Store) Subscribe(fn observable.Listener[State]) (unsubscribe func()) {
	return s.value.Subscribe(fn)
}

// Open shows the modal for entity. A nil entity opens it without payload.
func (s *Store) Open(key Key, entity any) {
	if entity == nil {
		entity = true
	}
	s.Set(key, entity)
}

// Close hides the modal.
func (s *Store) Close(key Key) {
	s.Set(key, nil)
}

// Set stores v for key. A falsy v (nil, false, "") closes the modal.
func (s *Store) Set(key Key, v any) {
	s.value.Update(func(cur State) State {
		next := make(State, len(cur)+1)
		for k, e := range cur {
			next[k] = e
		}
		if falsy(v) {
			delete(next, key)
		} else {
			next[key] = v
		}
		return next
	})
}

// Get returns the payload of an open modal.
func (s *Store) Get(key Key) (any, bool) {
	v, ok := s.value.Load()[key]
	return v, ok
}

func (s *Store) IsOpen(key Key) bool {
	_, ok := s.Get(key)
	return ok
}

// Entity returns the payload of an open modal as T.
func Entity[T any](s *Store, key Key) (T, bool) {
	v, ok := s.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	e, ok := v.(T)
	return e, ok
}

func falsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case bool:
		return !x
	case string:
		return x == ""
	}
	return false
}
