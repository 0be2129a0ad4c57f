// Package callback keeps, per handle, the ordered listeners registered for one
// message type and fans a message out to them.
package callback

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/banshee-data/sensorapi/internal/monitoring"
)

var (
	ErrNilListener           = errors.New("callback: nil listener")
	ErrListenerNotComparable = errors.New("callback: listener is not comparable")
)

// Listener receives messages of type M for handle type H. The message pointer
// is only valid for the duration of the call.
//
// Listeners must not register or deregister on the same registry from within
// OnMessage; Notify holds the registry read lock while calling out.
type Listener[H comparable, M any] interface {
	OnMessage(h H, msg *M)
}

// funcListener adapts a plain function. It is always used through a pointer
// so each adapter has a stable identity.
type funcListener[H comparable, M any] struct {
	fn func(H, *M)
}

func (f *funcListener[H, M]) OnMessage(h H, msg *M) { f.fn(h, msg) }

// Func wraps fn as a Listener. Keep the returned value to deregister later;
// two calls with the same function yield two distinct listeners.
func Func[H comparable, M any](fn func(H, *M)) Listener[H, M] {
	return &funcListener[H, M]{fn: fn}
}

// PanicHandler is called with the recovered value when a listener panics.
type PanicHandler func(recovered any)

// Registry maps handles to their listeners for one message type. Listeners
// of a handle are kept in registration order and are unique by identity.
type Registry[H comparable, M any] struct {
	name      string
	mu        sync.RWMutex
	listeners map[H][]Listener[H, M]
	onPanic   PanicHandler
}

// NewRegistry returns an empty registry. name appears in log lines.
func NewRegistry[H comparable, M any](name string) *Registry[H, M] {
	return &Registry[H, M]{
		name:      name,
		listeners: make(map[H][]Listener[H, M]),
	}
}

// OnPanic installs a hook called after a listener panic has been recovered
// and logged. It must be set before the registry is shared.
func (r *Registry[H, M]) OnPanic(fn PanicHandler) {
	r.onPanic = fn
}

// Name returns the registry name.
func (r *Registry[H, M]) Name() string {
	return r.name
}

func checkListener(l any) error {
	if l == nil {
		return ErrNilListener
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		if v.IsNil() {
			return ErrNilListener
		}
	}
	if !v.Comparable() {
		return fmt.Errorf("%w: %T", ErrListenerNotComparable, l)
	}
	return nil
}

// Add registers l for h. Adding a listener already registered for h is a
// no-op.
func (r *Registry[H, M]) Add(h H, l Listener[H, M]) error {
	if err := checkListener(l); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.listeners[h] {
		if existing == l {
			return nil
		}
	}
	r.listeners[h] = append(r.listeners[h], l)
	return nil
}

// Remove deregisters l for h. Removing a listener that was never added is a
// no-op. It reports whether anything was removed.
func (r *Registry[H, M]) Remove(h H, l Listener[H, M]) bool {
	if checkListener(l) != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.listeners[h]
	for i, existing := range list {
		if existing != l {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.listeners, h)
		} else {
			r.listeners[h] = list
		}
		return true
	}
	return false
}

// Notify calls every listener registered for h, in registration order, and
// returns how many were called. A panicking listener is logged and skipped;
// the remaining listeners still run.
func (r *Registry[H, M]) Notify(h H, msg *M) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.listeners[h]
	for _, l := range list {
		r.call(h, l, msg)
	}
	return len(list)
}

func (r *Registry[H, M]) call(h H, l Listener[H, M], msg *M) {
	defer func() {
		if p := recover(); p != nil {
			monitoring.Logf("[callback] %s listener %T panicked for handle %v: %v", r.name, l, h, p)
			if r.onPanic != nil {
				r.onPanic(p)
			}
		}
	}()
	l.OnMessage(h, msg)
}

// Len returns the number of listeners registered for h.
func (r *Registry[H, M]) Len(h H) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[h])
}

// Handles returns the number of handles with at least one listener.
func (r *Registry[H, M]) Handles() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// ClearHandle removes every listener registered for h.
func (r *Registry[H, M]) ClearHandle(h H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.listeners, h)
}

// Clear removes every listener for every handle.
func (r *Registry[H, M]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.listeners)
}
