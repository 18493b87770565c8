package session

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAfterFires(t *testing.T) {
	fired := make(chan struct{})
	After(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("deadline never fired")
	}
}

func TestStopPreventsFire(t *testing.T) {
	var count atomic.Int32
	h := After(20*time.Millisecond, func() { count.Add(1) })
	h.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
}

func TestStopAfterFireIsNoop(t *testing.T) {
	fired := make(chan struct{})
	h := After(5*time.Millisecond, func() { close(fired) })
	<-fired
	h.Stop()
	h.Stop()
}

func TestStopNilHandle(t *testing.T) {
	var h *Handle
	h.Stop()
}

func TestFireAtMostOnce(t *testing.T) {
	var count atomic.Int32
	h := After(5*time.Millisecond, func() { count.Add(1) })

	time.Sleep(40 * time.Millisecond)
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}
