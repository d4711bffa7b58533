package offdata

import (
	"sync"
	"testing"

	"github.com/rbrundritt/offline-data-manager/pkg/logger"
)

func TestEmitterFanOutInOrder(t *testing.T) {
	e := NewEmitter(logger.NopLogger{})
	var mu sync.Mutex
	var order []int

	e.On(TopicStatus, func(any) { mu.Lock(); order = append(order, 1); mu.Unlock() })
	e.On(TopicStatus, func(any) { mu.Lock(); order = append(order, 2); mu.Unlock() })
	e.On(TopicStatus, func(any) { mu.Lock(); order = append(order, 3); mu.Unlock() })

	e.Emit(TopicStatus, StatusPayload{ID: "a", Status: StatusPending})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("listeners fired out of registration order: %v", order)
	}
}

func TestEmitterPayloadDelivered(t *testing.T) {
	e := NewEmitter(logger.NopLogger{})
	var got StatusPayload
	e.On(TopicStatus, func(p any) { got = p.(StatusPayload) })
	e.Emit(TopicStatus, StatusPayload{ID: "x", Status: StatusComplete})
	if got.ID != "x" || got.Status != StatusComplete {
		t.Fatalf("got %+v, want {x complete}", got)
	}
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := NewEmitter(logger.NopLogger{})
	calls := 0
	unsub := e.On(TopicComplete, func(any) { calls++ })
	e.Emit(TopicComplete, CompletePayload{})
	unsub()
	e.Emit(TopicComplete, CompletePayload{})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestEmitterOnceFiresOnlyOnce(t *testing.T) {
	e := NewEmitter(logger.NopLogger{})
	calls := 0
	e.Once(TopicComplete, func(any) { calls++ })
	e.Emit(TopicComplete, CompletePayload{})
	e.Emit(TopicComplete, CompletePayload{})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestEmitterPanicIsolatesListener(t *testing.T) {
	e := NewEmitter(logger.NopLogger{})
	secondCalled := false
	e.On(TopicError, func(any) { panic("boom") })
	e.On(TopicError, func(any) { secondCalled = true })

	// Must not panic out of Emit.
	e.Emit(TopicError, ErrorPayload{ID: "a"})

	if !secondCalled {
		t.Fatalf("second listener did not run after the first panicked")
	}
}

func TestEmitterTopicsAreIndependent(t *testing.T) {
	e := NewEmitter(logger.NopLogger{})
	statusCalls, completeCalls := 0, 0
	e.On(TopicStatus, func(any) { statusCalls++ })
	e.On(TopicComplete, func(any) { completeCalls++ })

	e.Emit(TopicStatus, StatusPayload{})

	if statusCalls != 1 || completeCalls != 0 {
		t.Fatalf("status=%d complete=%d, want 1 0", statusCalls, completeCalls)
	}
}
