package wallet

import (
	"encoding/json"
	"sync"
)

// Emitter is a listener registry for provider events.
type Emitter struct {
	mu        sync.Mutex
	next      ListenerID
	listeners map[string]map[ListenerID]Listener
}

// On registers fn for event.
func (e *Emitter) On(event string, fn Listener) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[string]map[ListenerID]Listener)
	}
	if e.listeners[event] == nil {
		e.listeners[event] = make(map[ListenerID]Listener)
	}
	e.next++
	e.listeners[event][e.next] = fn
	return e.next
}

// RemoveListener unregisters a listener. Unknown ids are ignored.
func (e *Emitter) RemoveListener(event string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners[event], id)
}

// Count returns the number of listeners for event.
func (e *Emitter) Count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Emit delivers payload to every listener of event, outside the lock.
func (e *Emitter) Emit(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	e.mu.Lock()
	fns := make([]Listener, 0, len(e.listeners[event]))
	for _, fn := range e.listeners[event] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(raw)
	}
}
