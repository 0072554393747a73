/*
Package hub contains the rendezvous server's connection handling and event dispatch.

This file maps every inbound control event onto the session store, the room
registry, and the blind signaling/file relay. Failures are translated into an
error frame sent to the originating session only; no other session is informed.
*/
package hub

import (
	"html"

	"peerchat/internal/pkg/errs"
	"peerchat/internal/protocol"
)

// reply builds a frame and queues it on a single session.
func (h *Hub) reply(s *Session, event string, payload any) {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to build reply frame.")
		return
	}
	s.Deliver(frame)
}

// sendError translates a CustomError into an error frame for the origin session.
func (h *Hub) sendError(s *Session, customErr *errs.CustomError) {
	code, msg := customErr.Event()
	h.reply(s, protocol.EventError, protocol.ErrorEvent{Code: code, Message: msg})
}

// requireJoined checks the session completed user:join.
func (h *Hub) requireJoined(s *Session) bool {
	if s.userID == "" {
		h.sendError(s, errs.NewError(errs.ErrNotJoined))
		return false
	}
	return true
}

// dispatch routes one inbound frame. Runs on the hub loop.
func (h *Hub) dispatch(s *Session, frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventUserJoin:
		h.handleUserJoin(s, frame)
	case protocol.EventUserUpdate:
		h.handleUserUpdate(s, frame)

	case protocol.EventRoomCreate:
		h.handleRoomCreate(s, frame)
	case protocol.EventRoomJoin:
		h.handleRoomJoin(s, frame)
	case protocol.EventRoomJoinByPin:
		h.handleRoomJoinByPin(s, frame)
	case protocol.EventRoomKick:
		h.handleRoomKick(s, frame)
	case protocol.EventRoomLeave:
		h.handleRoomLeave(s, frame)

	case protocol.EventRoomMessage:
		h.handleRoomMessage(s, frame)
	case protocol.EventRoomTyping:
		h.handleRoomTyping(s, frame)
	case protocol.EventRoomMessageEdit:
		h.handleRoomMessageEdit(s, frame)
	case protocol.EventRoomMessageDelete:
		h.handleRoomMessageDelete(s, frame)
	case protocol.EventRoomReaction:
		h.handleRoomReaction(s, frame)

	case protocol.EventSignalOffer, protocol.EventSignalAnswer, protocol.EventSignalICE:
		h.handleSignal(s, frame)
	case protocol.EventFileStart:
		h.handleFileStart(s, frame)
	case protocol.EventFileChunk:
		h.handleFileChunk(s, frame)
	case protocol.EventFileEnd:
		h.handleFileEnd(s, frame)
	case protocol.EventPeerEnvelope:
		h.handlePeerEnvelope(s, frame)

	default:
		h.logger.Warn().Str("event", frame.Event).Msg("Session sent unsupported event.")
		h.sendError(s, errs.NewError(errs.ErrInvalidParams))
	}
}

func (h *Hub) handleUserJoin(s *Session, frame protocol.Frame) {
	var req protocol.UserJoinRequest
	if err := frame.Decode(&req); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	u, customErr := h.store.Join(req.Name, req.AvatarURL, req.UserID, s)
	if customErr != nil {
		h.sendError(s, customErr)
		return
	}

	s.userID = u.ID

	h.reply(s, protocol.EventUserJoined, protocol.UserJoinedReply{UserID: u.ID, User: u})
	h.broadcastUserList()
}

func (h *Hub) handleUserUpdate(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var req protocol.UserUpdateRequest
	if err := frame.Decode(&req); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	// Ownership is the session-to-identity binding; a mismatch is a silent no-op.
	u, ok := h.store.Update(s.userID, s, req.Name, req.AvatarURL)
	if !ok {
		return
	}

	h.reply(s, protocol.EventUserUpdated, protocol.UserUpdatedReply{User: u})
	h.broadcastUserList()
}

func (h *Hub) handleRoomCreate(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var req protocol.RoomCreateRequest
	if err := frame.Decode(&req); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	roomID, customErr := h.registry.Create(s.userID, req.Name, req.IsPrivate, req.Pin)
	if customErr != nil {
		h.sendError(s, customErr)
		return
	}

	info, _ := h.registry.Snapshot(roomID, h.resolveName)
	h.reply(s, protocol.EventRoomCreated, protocol.RoomCreatedReply{RoomID: roomID, Room: info})
	h.broadcastRoomList()
}

func (h *Hub) handleRoomJoin(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var req protocol.RoomJoinRequest
	if err := frame.Decode(&req); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if customErr := h.registry.Join(s.userID, req.RoomID, req.Pin); customErr != nil {
		h.sendError(s, customErr)
		return
	}

	h.notifyJoined(s, req.RoomID)
}

func (h *Hub) handleRoomJoinByPin(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var req protocol.RoomJoinByPinRequest
	if err := frame.Decode(&req); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	roomID, customErr := h.registry.JoinByPin(s.userID, req.Pin)
	if customErr != nil {
		h.sendError(s, customErr)
		return
	}

	h.notifyJoined(s, roomID)
	h.broadcastRoomList()
}

// notifyJoined sends room:joined to the joiner and a room:update delta to the
// members that were already there.
func (h *Hub) notifyJoined(s *Session, roomID string) {
	info, ok := h.registry.Snapshot(roomID, h.resolveName)
	if !ok {
		return
	}

	h.reply(s, protocol.EventRoomJoined, protocol.RoomJoinedReply{RoomID: roomID, Room: info})

	frame, err := protocol.NewFrame(protocol.EventRoomUpdate, protocol.RoomUpdateEvent{RoomID: roomID, Room: info})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build room:update frame.")
		return
	}
	h.roomFanout(roomID, frame, s.userID)
}

func (h *Hub) handleRoomKick(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var req protocol.RoomKickRequest
	if err := frame.Decode(&req); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	removed, customErr := h.registry.Kick(s.userID, req.RoomID, req.TargetUserID)
	if customErr != nil {
		h.sendError(s, customErr)
		return
	}
	if !removed {
		return
	}

	// The target is detached from the room's broadcast group by membership
	// removal and told specifically why.
	if ep, ok := h.store.Endpoint(req.TargetUserID); ok {
		frame, err := protocol.NewFrame(protocol.EventRoomKicked, protocol.RoomKickedEvent{RoomID: req.RoomID})
		if err == nil {
			ep.Deliver(frame)
		}
	}

	if info, ok := h.registry.Snapshot(req.RoomID, h.resolveName); ok {
		updateFrame, err := protocol.NewFrame(protocol.EventRoomUpdate, protocol.RoomUpdateEvent{RoomID: req.RoomID, Room: info})
		if err == nil {
			h.roomFanout(req.RoomID, updateFrame, s.userID)
		}
	}
}

func (h *Hub) handleRoomLeave(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var req protocol.RoomLeaveRequest
	if err := frame.Decode(&req); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	res, customErr := h.registry.Leave(s.userID, req.RoomID)
	if customErr != nil {
		h.sendError(s, customErr)
		return
	}

	h.reply(s, protocol.EventRoomLeft, protocol.RoomLeftEvent{RoomID: req.RoomID})

	if !res.Destroyed {
		if info, ok := h.registry.Snapshot(req.RoomID, h.resolveName); ok {
			updateFrame, err := protocol.NewFrame(protocol.EventRoomUpdate, protocol.RoomUpdateEvent{RoomID: req.RoomID, Room: info})
			if err == nil {
				h.roomFanout(req.RoomID, updateFrame, s.userID)
			}
		}
	}

	h.broadcastRoomList()
}

func (h *Hub) handleRoomMessage(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.RoomMessageEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if customErr := h.registry.RequireMember(s.userID, ev.RoomID); customErr != nil {
		h.sendError(s, customErr)
		return
	}

	ev.FromUserID = s.userID
	out, err := protocol.NewFrame(protocol.EventRoomMessage, ev)
	if err != nil {
		return
	}
	// Sender already has its local echo.
	h.roomFanout(ev.RoomID, out, s.userID)
}

func (h *Hub) handleRoomTyping(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.RoomTypingEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if customErr := h.registry.RequireMember(s.userID, ev.RoomID); customErr != nil {
		h.sendError(s, customErr)
		return
	}

	ev.FromUserID = s.userID
	out, err := protocol.NewFrame(protocol.EventRoomTyping, ev)
	if err != nil {
		return
	}
	h.roomFanout(ev.RoomID, out, s.userID)
}

func (h *Hub) handleRoomMessageEdit(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.RoomMessageEditEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if customErr := h.registry.RequireMember(s.userID, ev.RoomID); customErr != nil {
		h.sendError(s, customErr)
		return
	}

	ev.FromUserID = s.userID
	out, err := protocol.NewFrame(protocol.EventRoomMessageEdit, ev)
	if err != nil {
		return
	}
	h.roomFanout(ev.RoomID, out, s.userID)
}

func (h *Hub) handleRoomMessageDelete(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.RoomMessageDeleteEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if customErr := h.registry.RequireMember(s.userID, ev.RoomID); customErr != nil {
		h.sendError(s, customErr)
		return
	}

	ev.FromUserID = s.userID
	out, err := protocol.NewFrame(protocol.EventRoomMessageDelete, ev)
	if err != nil {
		return
	}
	h.roomFanout(ev.RoomID, out, s.userID)
}

func (h *Hub) handleRoomReaction(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.RoomReactionEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	if customErr := h.registry.RequireMember(s.userID, ev.RoomID); customErr != nil {
		h.sendError(s, customErr)
		return
	}

	ev.FromUserID = s.userID
	out, err := protocol.NewFrame(protocol.EventRoomReaction, ev)
	if err != nil {
		return
	}
	// Reactions go to all members including the sender so multi-tab caller
	// state also updates.
	h.roomFanout(ev.RoomID, out, "")
}

// forward resolves the target's current endpoint and re-emits the frame. Pure
// store-and-forward: if the target is offline the message is silently dropped.
func (h *Hub) forward(targetUserID string, event string, payload any) {
	ep, ok := h.store.Endpoint(targetUserID)
	if !ok {
		h.logger.Debug().Str("target", targetUserID).Str("event", event).Msg("Relay target offline; dropping.")
		return
	}

	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("Failed to build relay frame.")
		return
	}
	ep.Deliver(frame)
}

func (h *Hub) handleSignal(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.SignalEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	target := ev.TargetUserID
	ev.TargetUserID = ""
	ev.FromUserID = s.userID
	h.forward(target, frame.Event, ev)
}

func (h *Hub) handleFileStart(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.FileStartEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	target := ev.TargetUserID
	ev.TargetUserID = ""
	ev.FromUserID = s.userID
	ev.FileName = html.EscapeString(ev.FileName)
	h.forward(target, protocol.EventFileStart, ev)
}

func (h *Hub) handleFileChunk(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.FileChunkEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	target := ev.TargetUserID
	ev.TargetUserID = ""
	ev.FromUserID = s.userID
	h.forward(target, protocol.EventFileChunk, ev)
}

func (h *Hub) handleFileEnd(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.FileEndEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	target := ev.TargetUserID
	ev.TargetUserID = ""
	ev.FromUserID = s.userID
	h.forward(target, protocol.EventFileEnd, ev)
}

func (h *Hub) handlePeerEnvelope(s *Session, frame protocol.Frame) {
	if !h.requireJoined(s) {
		return
	}

	var ev protocol.PeerEnvelopeEvent
	if err := frame.Decode(&ev); err != nil {
		h.sendError(s, errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	// The inner envelope is opaque relay traffic; the server does not
	// interpret kind or payload for peer-addressed envelopes.
	target := ev.TargetUserID
	ev.TargetUserID = ""
	ev.FromUserID = s.userID
	h.forward(target, protocol.EventPeerEnvelope, ev)
}
