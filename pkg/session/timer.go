package session

import (
	"sync"
	"time"
)

// Handle is a cancellable one-shot deadline. Exactly one of the fire
// callback or Stop wins: once Stop returns, the callback will not run,
// and a callback that has started cannot be stopped.
type Handle struct {
	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

// After schedules fn to run once d elapses and returns a handle that can
// cancel it. fn runs on its own goroutine.
func After(d time.Duration, fn func()) *Handle {
	h := &Handle{}
	h.timer = time.AfterFunc(d, func() {
		h.mu.Lock()
		if h.done {
			h.mu.Unlock()
			return
		}
		h.done = true
		h.mu.Unlock()
		fn()
	})
	return h
}

// Stop cancels the deadline. Calling Stop on an already-fired or
// already-stopped handle is a no-op. A nil handle is also a no-op, so
// callers can stop a session's deadline without checking whether one
// was ever armed.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	h.done = true
	h.timer.Stop()
}
