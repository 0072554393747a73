package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerchat/internal/app/registry"
	"peerchat/internal/app/session"
)

func TestRegisterAfterShutdownDoesNotBlock(t *testing.T) {
	h := NewHub(session.NewStore(), registry.NewRegistry())
	h.Shutdown()

	// A connection upgraded while the hub was stopping must not strand its
	// handler goroutine.
	s := &Session{hub: h, send: make(chan []byte, 1)}
	done := make(chan struct{})
	go func() {
		h.Register(s)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Register blocked after shutdown")
	}

	// The refused session's send queue is closed so its WritePump exits.
	_, open := <-s.send
	require.False(t, open)
}
