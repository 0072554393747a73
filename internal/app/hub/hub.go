/*
Package hub contains the rendezvous server's connection handling and event dispatch.

This file defines the Hub struct, the single-writer event loop that owns all
mutation of the session store and room registry. Every inbound frame is handled
to completion before the next, which is what makes the registry's record-level
locking sufficient without cross-record ordering concerns.
*/
package hub

import (
	"sync"

	"github.com/rs/zerolog"

	"peerchat/internal/app/registry"
	"peerchat/internal/app/session"
	"peerchat/internal/pkg/logx"
	"peerchat/internal/protocol"
)

// inboundChannelBuffer absorbs bursts from many sessions without blocking reads.
const inboundChannelBuffer = 1024

// inboundEvent pairs a parsed frame with the session that sent it.
type inboundEvent struct {
	session *Session
	frame   protocol.Frame
}

// Hub coordinates all sessions and dispatches every control event.
type Hub struct {
	store    *session.Store
	registry *registry.Registry

	register   chan *Session
	unregister chan *Session
	inbound    chan inboundEvent
	stop       chan struct{}

	// sessions tracks live connections, bound or not. Touched only by Run.
	sessions map[*Session]struct{}

	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewHub constructs a Hub and starts its event loop.
func NewHub(store *session.Store, reg *registry.Registry) *Hub {
	h := &Hub{
		store:      store,
		registry:   reg,
		register:   make(chan *Session),
		unregister: make(chan *Session),
		inbound:    make(chan inboundEvent, inboundChannelBuffer),
		stop:       make(chan struct{}),
		sessions:   make(map[*Session]struct{}),
		logger:     logx.Component("hub"),
	}

	h.wg.Add(1)
	go h.run()

	return h
}

// Register hands a freshly upgraded session to the hub loop. A hub that has
// already stopped refuses the session instead of blocking the handler
// goroutine; closing the send queue lets its WritePump exit.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.stop:
		s.closeSend()
	}
}

// run is the hub's single event loop. All session/registry mutation happens here.
func (h *Hub) run() {
	defer h.wg.Done()

	h.logger.Info().Msg("Hub event loop started.")

	for {
		select {
		case s := <-h.register:
			h.sessions[s] = struct{}{}
			h.logger.Info().Int("total_sessions", len(h.sessions)).Msg("Session registered.")

		case s := <-h.unregister:
			if _, ok := h.sessions[s]; !ok {
				continue
			}
			delete(h.sessions, s)
			h.handleDisconnect(s)
			s.closeSend()
			h.logger.Info().Int("total_sessions", len(h.sessions)).Msg("Session unregistered.")

		case ev := <-h.inbound:
			h.dispatch(ev.session, ev.frame)

		case <-h.stop:
			h.logger.Info().Msg("Hub stopping; closing all sessions.")
			for s := range h.sessions {
				s.closeSend()
			}
			h.sessions = nil
			return
		}
	}
}

// Shutdown stops the event loop and waits for it to drain.
func (h *Hub) Shutdown() {
	close(h.stop)
	h.wg.Wait()
	h.logger.Info().Msg("Hub shutdown complete.")
}

// resolveName adapts the session store to the registry's snapshot resolver.
func (h *Hub) resolveName(userID string) (string, bool) {
	return h.store.Name(userID)
}

// broadcastUserList pushes the full online-user list to every session.
func (h *Hub) broadcastUserList() {
	frame, err := protocol.NewFrame(protocol.EventUserList, h.store.List())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build user:list frame.")
		return
	}
	for _, ep := range h.store.Endpoints() {
		ep.Deliver(frame)
	}
}

// broadcastRoomList pushes the full room list to every session.
func (h *Hub) broadcastRoomList() {
	frame, err := protocol.NewFrame(protocol.EventRoomList, h.registry.ListInfos(h.resolveName))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build room:list frame.")
		return
	}
	for _, ep := range h.store.Endpoints() {
		ep.Deliver(frame)
	}
}

// roomFanout delivers a frame to every member of a room, optionally excluding
// one user id (the sender, which already has a local echo).
func (h *Hub) roomFanout(roomID string, frame protocol.Frame, excludeUserID string) {
	for _, memberID := range h.registry.Members(roomID) {
		if memberID == excludeUserID {
			continue
		}
		if ep, ok := h.store.Endpoint(memberID); ok {
			ep.Deliver(frame)
		}
	}
}

// handleDisconnect processes a closed connection as an implicit leave from
// every room, then removes the identity and refreshes the global lists.
func (h *Hub) handleDisconnect(s *Session) {
	if s.userID == "" {
		return
	}

	// A reconnect may have rebound the identity to a newer session; the stale
	// socket must not tear down the new binding.
	if ep, ok := h.store.Endpoint(s.userID); !ok || ep != session.Endpoint(s) {
		return
	}

	results := h.registry.RemoveUser(s.userID)
	for _, res := range results {
		if res.Destroyed {
			continue
		}
		if info, ok := h.registry.Snapshot(res.RoomID, h.resolveName); ok {
			frame, err := protocol.NewFrame(protocol.EventRoomUpdate, protocol.RoomUpdateEvent{RoomID: res.RoomID, Room: info})
			if err != nil {
				h.logger.Error().Err(err).Msg("Failed to build room:update frame on disconnect.")
				continue
			}
			h.roomFanout(res.RoomID, frame, "")
		}
	}

	h.store.Leave(s.userID)
	h.broadcastUserList()
	h.broadcastRoomList()

	h.logger.Info().Str("user_id", s.userID).Msg("User disconnected and cleaned up.")
}
