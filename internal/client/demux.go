package client

import (
	"time"

	"peerchat/internal/chatstate"
	"peerchat/internal/peer"
	"peerchat/internal/protocol"
)

// readLoop consumes control frames until the connection dies and routes each
// to the subsystem that owns its event family.
func (g *Gateway) readLoop() {
	defer g.Close()

	for {
		var frame protocol.Frame
		if err := g.conn.ReadJSON(&frame); err != nil {
			select {
			case <-g.done:
			default:
				g.logger.Warn().Err(err).Msg("Control session closed.")
			}
			return
		}
		g.handleFrame(frame)
	}
}

func (g *Gateway) handleFrame(frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventUserJoined:
		var reply protocol.UserJoinedReply
		if g.decode(frame, &reply) {
			select {
			case g.joined <- reply:
			default:
			}
		}

	case protocol.EventUserUpdated:
		// Profile echo; the user:list broadcast carries the visible change.

	case protocol.EventUserList:
		var users []protocol.User
		if g.decode(frame, &users) {
			g.notifier.UserList(users)
		}

	case protocol.EventRoomList:
		var rooms []protocol.RoomInfo
		if g.decode(frame, &rooms) {
			g.notifier.RoomList(rooms)
		}

	case protocol.EventRoomCreated:
		var reply protocol.RoomCreatedReply
		if g.decode(frame, &reply) {
			g.notifier.RoomJoined(reply.Room)
		}

	case protocol.EventRoomJoined:
		var reply protocol.RoomJoinedReply
		if g.decode(frame, &reply) {
			g.notifier.RoomJoined(reply.Room)
		}

	case protocol.EventRoomUpdate:
		var ev protocol.RoomUpdateEvent
		if g.decode(frame, &ev) {
			g.notifier.RoomUpdated(ev.Room)
		}

	case protocol.EventRoomKicked:
		var ev protocol.RoomKickedEvent
		if g.decode(frame, &ev) {
			g.notifier.RoomKicked(ev.RoomID)
		}

	case protocol.EventRoomLeft:
		var ev protocol.RoomLeftEvent
		if g.decode(frame, &ev) {
			g.notifier.RoomLeft(ev.RoomID)
		}

	case protocol.EventRoomMessage:
		var ev protocol.RoomMessageEvent
		if g.decode(frame, &ev) {
			g.state.ApplyChat(ev.RoomID, ev.FromUserID, ev.Message.MessageID, ev.Message.Text, ev.Message.SentAt)
		}

	case protocol.EventRoomTyping:
		var ev protocol.RoomTypingEvent
		if g.decode(frame, &ev) {
			g.state.ApplyTyping(ev.RoomID, ev.FromUserID, ev.IsTyping)
		}

	case protocol.EventRoomMessageEdit:
		var ev protocol.RoomMessageEditEvent
		if g.decode(frame, &ev) {
			g.state.ApplyEdit(ev.RoomID, "", ev.MessageID, ev.NewText)
		}

	case protocol.EventRoomMessageDelete:
		var ev protocol.RoomMessageDeleteEvent
		if g.decode(frame, &ev) {
			g.state.ApplyDelete(ev.RoomID, "", ev.MessageID)
		}

	case protocol.EventRoomReaction:
		var ev protocol.RoomReactionEvent
		if g.decode(frame, &ev) {
			g.state.ApplyReaction(ev.RoomID, "", ev.MessageID, ev.Emoji, ev.FromUserID)
		}

	case protocol.EventSignalOffer:
		g.handleSignal(frame, func(pm *peer.Manager, ev protocol.SignalEvent) error {
			return pm.HandleOffer(ev.FromUserID, ev.Offer)
		})

	case protocol.EventSignalAnswer:
		g.handleSignal(frame, func(pm *peer.Manager, ev protocol.SignalEvent) error {
			return pm.HandleAnswer(ev.FromUserID, ev.Answer)
		})

	case protocol.EventSignalICE:
		g.handleSignal(frame, func(pm *peer.Manager, ev protocol.SignalEvent) error {
			return pm.HandleCandidate(ev.FromUserID, ev.Candidate)
		})

	case protocol.EventFileStart:
		var ev protocol.FileStartEvent
		if g.decode(frame, &ev) {
			if err := g.assembler.Start(ev.FromUserID, ev.FileID, ev.FileName, ev.FileSize, ev.TotalChunks, false); err != nil {
				g.logger.Warn().Err(err).Str("file_id", ev.FileID).Msg("Rejected relayed transfer.")
			}
		}

	case protocol.EventFileChunk:
		var ev protocol.FileChunkEvent
		if g.decode(frame, &ev) {
			g.applyChunk(ev.FileID, ev.ChunkIndex, ev.Chunk, false)
		}

	case protocol.EventFileEnd:
		var ev protocol.FileEndEvent
		if g.decode(frame, &ev) {
			g.finishTransfer(ev.FileID)
		}

	case protocol.EventPeerEnvelope:
		var ev protocol.PeerEnvelopeEvent
		if g.decode(frame, &ev) {
			env := ev.Envelope
			if env.SenderID == "" {
				env.SenderID = ev.FromUserID
			}
			g.applyEnvelope(ev.FromUserID, &env, false)
		}

	case protocol.EventError:
		var ev protocol.ErrorEvent
		if g.decode(frame, &ev) {
			g.notifier.ServerError(ev.Code, ev.Message)
		}

	default:
		g.logger.Warn().Str("event", frame.Event).Msg("Ignoring unknown control event.")
	}
}

func (g *Gateway) handleSignal(frame protocol.Frame, apply func(*peer.Manager, protocol.SignalEvent) error) {
	pm := g.peerManager()
	if pm == nil {
		return
	}
	var ev protocol.SignalEvent
	if !g.decode(frame, &ev) {
		return
	}
	if err := apply(pm, ev); err != nil {
		g.logger.Warn().Err(err).Str("remote_id", ev.FromUserID).Msg("Signaling step failed.")
	}
}

func (g *Gateway) decode(frame protocol.Frame, dst any) bool {
	if err := frame.Decode(dst); err != nil {
		g.logger.Warn().Err(err).Str("event", frame.Event).Msg("Dropping malformed frame.")
		return false
	}
	return true
}

// applyEnvelope applies a peer-addressed envelope regardless of which
// transport delivered it. The conversation is keyed by the remote user id, so
// a transfer or a chat that switches transports lands in the same timeline.
// direct marks envelopes read off the data channel, which pins in-flight
// transfers to that link.
func (g *Gateway) applyEnvelope(fromID string, env *protocol.Envelope, direct bool) {
	switch env.Kind {
	case protocol.KindChat:
		g.state.ApplyChat(fromID, env.SenderID, env.Chat.MessageID, env.Chat.Text, env.Chat.SentAt)
	case protocol.KindTyping:
		g.state.ApplyTyping(fromID, env.SenderID, env.Typing.IsTyping)
	case protocol.KindReaction:
		g.state.ApplyReaction(fromID, env.ClientMessageID, env.Reaction.MessageID, env.Reaction.Emoji, env.SenderID)
	case protocol.KindEdit:
		g.state.ApplyEdit(fromID, env.ClientMessageID, env.Edit.MessageID, env.Edit.NewText)
	case protocol.KindDelete:
		g.state.ApplyDelete(fromID, env.ClientMessageID, env.Delete.MessageID)
	case protocol.KindFileStart:
		fs := env.FileStart
		if err := g.assembler.Start(env.SenderID, fs.FileID, fs.Name, fs.Size, fs.TotalChunks, direct); err != nil {
			g.logger.Warn().Err(err).Str("file_id", fs.FileID).Msg("Rejected direct transfer.")
		}
	case protocol.KindFileChunk:
		g.applyChunk(env.FileChunk.FileID, env.FileChunk.Index, env.FileChunk.Data, direct)
	case protocol.KindFileEnd:
		g.finishTransfer(env.FileEnd.FileID)
	default:
		g.logger.Warn().Str("kind", string(env.Kind)).Msg("Ignoring unknown envelope kind.")
	}
}

// applyChunk feeds one chunk to the assembler and surfaces progress or the
// completed file.
func (g *Gateway) applyChunk(fileID string, index int, data []byte, direct bool) {
	done, prog, err := g.assembler.Chunk(fileID, index, data, direct)
	if err != nil {
		g.logger.Warn().Err(err).Str("file_id", fileID).Int("chunk", index).Msg("Dropping transfer chunk.")
		return
	}
	if done != nil {
		g.notifier.FileReceived(*done)
		return
	}
	if prog != nil {
		g.notifier.FileProgress(*prog)
	}
}

// finishTransfer handles the end marker. Completion normally happened on the
// last chunk; an end with chunks missing discards the transfer.
func (g *Gateway) finishTransfer(fileID string) {
	done, err := g.assembler.End(fileID)
	if err != nil {
		g.logger.Warn().Err(err).Str("file_id", fileID).Msg("Transfer ended incomplete, discarded.")
		return
	}
	if done != nil {
		g.notifier.FileReceived(*done)
	}
}

// stateSink persists applied chat mutations and replays reaction state to the
// notifier indirectly through the timeline.
type stateSink struct {
	g *Gateway
}

func (s *stateSink) OnMessage(chatID string, msg chatstate.Message) {
	// Own messages are persisted at send time with the same key, so the
	// idempotent append makes this safe for both directions.
	s.g.appendHistory(chatID, msg.SenderID, msg.ID, "chat", msg.Text, msg.SentAt)
}

func (s *stateSink) OnEdit(chatID, messageID, newText string) {
	s.g.appendHistory(chatID, "", messageID+":edit", "edit", newText, nowMillis())
}

func (s *stateSink) OnDelete(chatID, messageID string) {
	s.g.appendHistory(chatID, "", messageID+":delete", "delete", "", nowMillis())
}

func (s *stateSink) OnReaction(chatID, messageID, emoji string, reactors []string) {}

func (s *stateSink) OnTyping(chatID, userID string, isTyping bool) {}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
