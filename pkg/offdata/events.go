package offdata

import (
	"sync"

	"github.com/rbrundritt/offline-data-manager/pkg/logger"
)

// Topic names one of the emitted event channels.
type Topic string

const (
	TopicRegistered   Topic = "registered"
	TopicStatus       Topic = "status"
	TopicProgress     Topic = "progress"
	TopicComplete     Topic = "complete"
	TopicExpired      Topic = "expired"
	TopicError        Topic = "error"
	TopicDeferred     Topic = "deferred"
	TopicDeleted      Topic = "deleted"
	TopicStopped      Topic = "stopped"
	TopicConnectivity Topic = "connectivity"
)

// Listener receives an event payload. The concrete payload type varies by
// topic (see the Payload types in payloads.go); listeners type-assert.
type Listener func(payload any)

// Unsubscribe removes the listener it was returned from.
type Unsubscribe func()

type listenerEntry struct {
	id   uint64
	fn   Listener
	once bool
}

// Emitter is a synchronous, topic-based event bus. Fan-out is synchronous
// and in registration order; a panicking listener is recovered and logged,
// never prevents the remaining listeners from running, and never propagates
// to Emit's caller.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[Topic][]*listenerEntry
	nextID    uint64
	log       logger.Logger
}

// NewEmitter creates an empty Emitter. If l is nil, a NopLogger is used.
func NewEmitter(l logger.Logger) *Emitter {
	if l == nil {
		l = logger.NopLogger{}
	}
	return &Emitter{
		listeners: make(map[Topic][]*listenerEntry),
		log:       l,
	}
}

// On subscribes fn to topic, returning an Unsubscribe func.
func (e *Emitter) On(topic Topic, fn Listener) Unsubscribe {
	return e.subscribe(topic, fn, false)
}

// Once subscribes fn to topic for a single invocation, then auto-removes it.
func (e *Emitter) Once(topic Topic, fn Listener) Unsubscribe {
	return e.subscribe(topic, fn, true)
}

func (e *Emitter) subscribe(topic Topic, fn Listener, once bool) Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	entry := &listenerEntry{id: id, fn: fn, once: once}
	e.listeners[topic] = append(e.listeners[topic], entry)
	return func() {
		e.removeByID(topic, id)
	}
}

// Off removes every subscription of fn on topic. Because Go funcs aren't
// comparable, callers that need precise removal should keep the
// Unsubscribe returned by On/Once instead.
func (e *Emitter) Off(topic Topic, fn Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	remaining := e.listeners[topic][:0]
	for _, entry := range e.listeners[topic] {
		if reflectSame(entry.fn, fn) {
			continue
		}
		remaining = append(remaining, entry)
	}
	e.listeners[topic] = remaining
}

func (e *Emitter) removeByID(topic Topic, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entries := e.listeners[topic]
	for i, entry := range entries {
		if entry.id == id {
			e.listeners[topic] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Emit synchronously fans payload out to every listener on topic, in
// registration order. Listeners registered with Once are removed after
// firing.
func (e *Emitter) Emit(topic Topic, payload any) {
	e.mu.RLock()
	entries := make([]*listenerEntry, len(e.listeners[topic]))
	copy(entries, e.listeners[topic])
	e.mu.RUnlock()

	var fired []uint64
	for _, entry := range entries {
		e.callSafely(topic, entry.fn, payload)
		if entry.once {
			fired = append(fired, entry.id)
		}
	}
	for _, id := range fired {
		e.removeByID(topic, id)
	}
}

func (e *Emitter) callSafely(topic Topic, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("offdata: listener for topic %q panicked: %v", topic, r)
		}
	}()
	fn(payload)
}

// reflectSame is a best-effort identity check for Off; Go closures compare
// unequal even when they wrap the same underlying func value, so this only
// reliably matches package-level funcs passed directly.
func reflectSame(a, b Listener) bool {
	return funcPointer(a) == funcPointer(b)
}
