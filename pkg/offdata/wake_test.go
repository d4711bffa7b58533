package offdata

import (
	"testing"
	"time"
)

func TestWakeNotifyWakesWaiter(t *testing.T) {
	w := newWake()
	done := make(chan struct{})
	woke := make(chan struct{})

	go func() {
		w.wait(done)
		close(woke)
	}()

	// Give the goroutine a chance to block on wait before notifying.
	time.Sleep(10 * time.Millisecond)
	w.notify()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("wait did not return after notify")
	}
}

func TestWakeCoalescesMultipleNotifies(t *testing.T) {
	w := newWake()
	w.notify()
	w.notify()
	w.notify()

	done := make(chan struct{})
	// A single pending notification resolves exactly one wait; it must not
	// still be pending for a second wait.
	w.wait(done)

	waited := make(chan struct{})
	go func() {
		w.wait(done)
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("second wait returned without a fresh notify")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWakeWaitReturnsOnDone(t *testing.T) {
	w := newWake()
	done := make(chan struct{})
	close(done)

	returned := make(chan struct{})
	go func() {
		w.wait(done)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("wait did not return when done was already closed")
	}
}
