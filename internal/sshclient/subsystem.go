package sshclient

import (
	"context"
	"reflect"
	"sync"
)

const invalidOwnerMsg = "the session must be either a Session instance or a SSH session resource"

// holder is the state every subsystem shares: the owner it was built from
// and the lock that serializes its channel use.
type holder struct {
	session *Session
	raw     Resource
	mu      sync.Mutex
}

func (h *holder) init(owner any) error {
	switch o := owner.(type) {
	case *Session:
		if o != nil {
			h.session = o
			return nil
		}
	case Resource:
		if !isNil(o) {
			h.raw = o
			return nil
		}
	}
	return &InvalidArgumentError{Msg: invalidOwnerMsg}
}

// isNil reports whether v holds a nil pointer or other nil reference.
func isNil(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// SessionResource returns the owning session's transport, connecting it if
// needed, or the raw resource the subsystem was built from.
func (h *holder) SessionResource(ctx context.Context) (Resource, error) {
	if h.session != nil {
		return h.session.Resource(ctx)
	}
	return h.raw, nil
}

// lock serializes channel use. Subsystems of one Session share its lock.
func (h *holder) lock() func() {
	if h.session != nil {
		h.session.active.Lock()
		return h.session.active.Unlock
	}
	h.mu.Lock()
	return h.mu.Unlock
}

// lazy holds a value built on first successful get.
type lazy[T any] struct {
	mu    sync.Mutex
	value T
	ok    bool
}

func (l *lazy[T]) get(create func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ok {
		return l.value, nil
	}
	v, err := create()
	if err != nil {
		var zero T
		return zero, err
	}
	l.value, l.ok = v, true
	return v, nil
}

// take returns the held value and forgets it.
func (l *lazy[T]) take() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.value, l.ok
	var zero T
	l.value, l.ok = zero, false
	return v, ok
}
