/*
Package client implements the gateway a chat frontend drives: one WebSocket
session to the rendezvous server, the peer link manager for direct channels,
local chat state with idempotent apply, the file transfer assembler, and an
optional durable history.

The gateway owns transport selection. Peer-addressed traffic goes over the
direct channel when one is established and falls back to the server relay
otherwise; room traffic always goes through the server.
*/
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"peerchat/internal/chatstate"
	"peerchat/internal/history"
	"peerchat/internal/peer"
	"peerchat/internal/pkg/logx"
	"peerchat/internal/pkg/randx"
	"peerchat/internal/pkg/resp"
	"peerchat/internal/protocol"
	"peerchat/internal/transfer"
)

const (
	connectTimeout = 10 * time.Second
	writeWait      = 10 * time.Second
	sweepInterval  = 30 * time.Second
)

// Options configures a Gateway.
type Options struct {
	// ServerURL is the rendezvous server base, e.g. "ws://host:8080".
	ServerURL string

	// Name is the display name sent on join.
	Name string

	// UserID, when set, asks the server to rebind a previous identity.
	UserID string

	// History receives every applied chat message. Defaults to history.Nop.
	History history.Store

	// Notifier receives UI-facing events. Defaults to NopNotifier.
	Notifier Notifier
}

// Gateway is one client endpoint: the control session plus its peer links.
type Gateway struct {
	opts     Options
	notifier Notifier
	hist     history.Store

	conn    *websocket.Conn
	writeMu sync.Mutex

	state     *chatstate.State
	assembler *transfer.Assembler

	// mu guards the identity and the peer manager, both bound during the
	// Connect handshake while the read loop is already running.
	mu     sync.Mutex
	userID string
	peers  *peer.Manager

	joined    chan protocol.UserJoinedReply
	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

// New constructs an unconnected Gateway.
func New(opts Options) *Gateway {
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.History == nil {
		opts.History = history.Nop{}
	}
	g := &Gateway{
		opts:      opts,
		notifier:  opts.Notifier,
		hist:      opts.History,
		assembler: transfer.NewAssembler(),
		joined:    make(chan protocol.UserJoinedReply, 1),
		done:      make(chan struct{}),
		logger:    logx.Component("gateway"),
	}
	g.state = chatstate.New(&stateSink{g: g})
	return g
}

// UserID returns the identity confirmed by the server. Empty before Connect
// completes.
func (g *Gateway) UserID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userID
}

// Messages returns the applied timeline for a room id or peer user id.
func (g *Gateway) Messages(chatID string) []chatstate.Message {
	return g.state.Messages(chatID)
}

func (g *Gateway) peerManager() *peer.Manager {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peers
}

// PeerLinkState reports the direct-channel state toward remoteID.
func (g *Gateway) PeerLinkState(remoteID string) peer.State {
	pm := g.peerManager()
	if pm == nil {
		return peer.StateAbsent
	}
	return pm.State(remoteID)
}

// Connect dials the server, fetches its connection config, opens the control
// session and completes the identity handshake. It returns once the server has
// confirmed the identity.
func (g *Gateway) Connect(ctx context.Context) error {
	stunServers, err := g.fetchSTUNServers(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Msg("Could not fetch server config, continuing without STUN.")
	}

	wsURL, err := joinWSPath(g.opts.ServerURL, "/ws")
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	g.conn = conn

	// The manager needs the confirmed user id for the mutual-offer race, but
	// signaling frames cannot arrive before user:joined, so binding it after
	// the handshake is safe.
	go g.readLoop()

	if err := g.send(protocol.EventUserJoin, protocol.UserJoinRequest{
		Name:   g.opts.Name,
		UserID: g.opts.UserID,
	}); err != nil {
		conn.Close()
		return err
	}

	select {
	case reply := <-g.joined:
		pm := peer.NewManager(reply.UserID, g, peer.Options{
			STUNServers: stunServers,
			OnEnvelope: func(fromID string, env *protocol.Envelope) {
				g.applyEnvelope(fromID, env, true)
			},
			OnStateChange: func(remoteID string, state peer.State) {
				if state == peer.StateClosed || state == peer.StateFailed {
					// Only transfers riding the dead link are lost; anything
					// arriving over the relay keeps assembling.
					g.assembler.AbandonFrom(remoteID)
				}
				g.notifier.PeerState(remoteID, state)
			},
		})
		g.mu.Lock()
		g.userID = reply.UserID
		g.peers = pm
		g.mu.Unlock()
		g.logger.Info().Str("user_id", reply.UserID).Msg("Connected.")
	case <-g.done:
		return fmt.Errorf("connection closed during handshake")
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}

	go g.sweepLoop()
	return nil
}

// fetchSTUNServers reads the server's advertised ICE configuration.
func (g *Gateway) fetchSTUNServers(ctx context.Context) ([]string, error) {
	base, err := httpBase(g.opts.ServerURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/config", nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config endpoint returned %s", res.Status)
	}

	var cfg struct {
		STUNServers []string `json:"stunServers"`
	}
	if err := resp.DecodeSuccess(res.Body, &cfg); err != nil {
		return nil, err
	}
	return cfg.STUNServers, nil
}

// Close tears down peer links and the control session.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		close(g.done)
		if pm := g.peerManager(); pm != nil {
			pm.Shutdown()
		}
		if g.conn != nil {
			g.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			g.conn.Close()
		}
		g.hist.Close()
	})
	return nil
}

// send marshals and writes one control frame. Serialized because gorilla
// connections allow a single concurrent writer.
func (g *Gateway) send(event string, payload any) error {
	frame, err := protocol.NewFrame(event, payload)
	if err != nil {
		return err
	}

	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	g.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return g.conn.WriteJSON(frame)
}

// UpdateProfile changes the display name and/or avatar.
func (g *Gateway) UpdateProfile(name, avatarURL string) error {
	return g.send(protocol.EventUserUpdate, protocol.UserUpdateRequest{Name: name, AvatarURL: avatarURL})
}

// CreateRoom creates a room; a private room requires a 4-8 digit pin.
func (g *Gateway) CreateRoom(name string, isPrivate bool, pin string) error {
	return g.send(protocol.EventRoomCreate, protocol.RoomCreateRequest{Name: name, IsPrivate: isPrivate, Pin: pin})
}

// JoinRoom joins a room by id, with pin for private rooms.
func (g *Gateway) JoinRoom(roomID, pin string) error {
	return g.send(protocol.EventRoomJoin, protocol.RoomJoinRequest{RoomID: roomID, Pin: pin})
}

// JoinRoomByPin joins whichever private room matches the pin.
func (g *Gateway) JoinRoomByPin(pin string) error {
	return g.send(protocol.EventRoomJoinByPin, protocol.RoomJoinByPinRequest{Pin: pin})
}

// LeaveRoom leaves a room.
func (g *Gateway) LeaveRoom(roomID string) error {
	return g.send(protocol.EventRoomLeave, protocol.RoomLeaveRequest{RoomID: roomID})
}

// Kick removes a member from a room. The server enforces that only the room
// lead may do this.
func (g *Gateway) Kick(roomID, targetUserID string) error {
	return g.send(protocol.EventRoomKick, protocol.RoomKickRequest{RoomID: roomID, TargetUserID: targetUserID})
}

// SendRoomMessage posts a chat message to a room. The message is applied
// locally at once; the server fans it out to the other members.
func (g *Gateway) SendRoomMessage(roomID, text string) (string, error) {
	msg := protocol.ChatPayload{
		MessageID: randx.NewID(),
		Text:      text,
		SentAt:    time.Now().UnixMilli(),
	}
	g.state.ApplyChat(roomID, g.UserID(), msg.MessageID, msg.Text, msg.SentAt)
	g.appendHistory(roomID, g.UserID(), msg.MessageID, "chat", msg.Text, msg.SentAt)
	if err := g.send(protocol.EventRoomMessage, protocol.RoomMessageEvent{RoomID: roomID, Message: msg}); err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

// EditRoomMessage replaces the text of a previously sent message.
func (g *Gateway) EditRoomMessage(roomID, messageID, newText string) error {
	g.state.ApplyEdit(roomID, "", messageID, newText)
	return g.send(protocol.EventRoomMessageEdit, protocol.RoomMessageEditEvent{
		RoomID: roomID, MessageID: messageID, NewText: newText,
	})
}

// DeleteRoomMessage tombstones a previously sent message.
func (g *Gateway) DeleteRoomMessage(roomID, messageID string) error {
	g.state.ApplyDelete(roomID, "", messageID)
	return g.send(protocol.EventRoomMessageDelete, protocol.RoomMessageDeleteEvent{
		RoomID: roomID, MessageID: messageID,
	})
}

// ToggleRoomReaction toggles this user's emoji reaction on a room message.
func (g *Gateway) ToggleRoomReaction(roomID, messageID, emoji string) error {
	return g.send(protocol.EventRoomReaction, protocol.RoomReactionEvent{
		RoomID: roomID, MessageID: messageID, Emoji: emoji,
	})
}

// SetRoomTyping publishes the typing indicator to a room.
func (g *Gateway) SetRoomTyping(roomID string, isTyping bool) error {
	return g.send(protocol.EventRoomTyping, protocol.RoomTypingEvent{RoomID: roomID, IsTyping: isTyping})
}

// DialPeer starts direct-channel negotiation toward a user. Messaging works
// before and during negotiation via the relay.
func (g *Gateway) DialPeer(remoteID string) error {
	pm := g.peerManager()
	if pm == nil {
		return fmt.Errorf("not connected")
	}
	return pm.Dial(remoteID)
}

// ClosePeer tears down the direct channel toward a user.
func (g *Gateway) ClosePeer(remoteID string) {
	if pm := g.peerManager(); pm != nil {
		pm.Close(remoteID)
	}
}

// SendPeerMessage delivers a chat message to one user, direct when possible.
func (g *Gateway) SendPeerMessage(targetID, text string) (string, error) {
	msg := &protocol.ChatPayload{
		MessageID: randx.NewID(),
		Text:      text,
		SentAt:    time.Now().UnixMilli(),
	}
	env := &protocol.Envelope{
		Kind:            protocol.KindChat,
		SenderID:        g.UserID(),
		Target:          targetID,
		ClientMessageID: msg.MessageID,
		Chat:            msg,
	}
	g.state.ApplyChat(targetID, env.SenderID, msg.MessageID, msg.Text, msg.SentAt)
	g.appendHistory(targetID, env.SenderID, msg.MessageID, "chat", msg.Text, msg.SentAt)
	if _, err := g.sendEnvelope(env); err != nil {
		return "", err
	}
	return msg.MessageID, nil
}

// EditPeerMessage replaces the text of a direct message. The edit carries its
// own operation id so a relay retransmission cannot revert a later edit at the
// receiver.
func (g *Gateway) EditPeerMessage(targetID, messageID, newText string) error {
	opID := randx.NewID()
	g.state.ApplyEdit(targetID, opID, messageID, newText)
	_, err := g.sendEnvelope(&protocol.Envelope{
		Kind:            protocol.KindEdit,
		SenderID:        g.UserID(),
		Target:          targetID,
		ClientMessageID: opID,
		Edit:            &protocol.EditPayload{MessageID: messageID, NewText: newText},
	})
	return err
}

// DeletePeerMessage tombstones a direct message.
func (g *Gateway) DeletePeerMessage(targetID, messageID string) error {
	opID := randx.NewID()
	g.state.ApplyDelete(targetID, opID, messageID)
	_, err := g.sendEnvelope(&protocol.Envelope{
		Kind:            protocol.KindDelete,
		SenderID:        g.UserID(),
		Target:          targetID,
		ClientMessageID: opID,
		Delete:          &protocol.DeletePayload{MessageID: messageID},
	})
	return err
}

// TogglePeerReaction toggles this user's emoji reaction on a direct message.
// Each toggle mints a fresh operation id; the receiver toggles once per id, so
// a redelivered envelope cannot un-toggle the reaction.
func (g *Gateway) TogglePeerReaction(targetID, messageID, emoji string) error {
	opID := randx.NewID()
	g.state.ApplyReaction(targetID, opID, messageID, emoji, g.UserID())
	_, err := g.sendEnvelope(&protocol.Envelope{
		Kind:            protocol.KindReaction,
		SenderID:        g.UserID(),
		Target:          targetID,
		ClientMessageID: opID,
		Reaction:        &protocol.ReactionPayload{MessageID: messageID, Emoji: emoji},
	})
	return err
}

// SetPeerTyping publishes the typing indicator to one user.
func (g *Gateway) SetPeerTyping(targetID string, isTyping bool) error {
	_, err := g.sendEnvelope(&protocol.Envelope{
		Kind:     protocol.KindTyping,
		SenderID: g.UserID(),
		Target:   targetID,
		Typing:   &protocol.TypingPayload{IsTyping: isTyping},
	})
	return err
}

// SendFile transfers a file to one user in chunks, direct when possible. It
// blocks until the last chunk is handed to the transport and returns the
// transfer's file id.
func (g *Gateway) SendFile(ctx context.Context, targetID, name string, data []byte) (string, error) {
	return transfer.Send(ctx, g.sendEnvelope, g.UserID(), targetID, name, data)
}

// sendEnvelope routes one envelope: the direct channel when established, the
// relay otherwise. It reports which path carried it.
func (g *Gateway) sendEnvelope(env *protocol.Envelope) (bool, error) {
	if pm := g.peerManager(); pm != nil {
		err := pm.Send(env.Target, env)
		if err == nil {
			return true, nil
		}
		if err != peer.ErrNotEstablished {
			return false, err
		}
	}
	return false, g.relayEnvelope(env)
}

// relayEnvelope ships an envelope through the server. File traffic uses the
// dedicated relay events; everything else rides peer:envelope.
func (g *Gateway) relayEnvelope(env *protocol.Envelope) error {
	switch env.Kind {
	case protocol.KindFileStart:
		fs := env.FileStart
		return g.send(protocol.EventFileStart, protocol.FileStartEvent{
			TargetUserID: env.Target,
			FileID:       fs.FileID,
			FileName:     fs.Name,
			FileSize:     fs.Size,
			TotalChunks:  fs.TotalChunks,
		})
	case protocol.KindFileChunk:
		fc := env.FileChunk
		return g.send(protocol.EventFileChunk, protocol.FileChunkEvent{
			TargetUserID: env.Target,
			FileID:       fc.FileID,
			ChunkIndex:   fc.Index,
			Chunk:        fc.Data,
		})
	case protocol.KindFileEnd:
		return g.send(protocol.EventFileEnd, protocol.FileEndEvent{
			TargetUserID: env.Target,
			FileID:       env.FileEnd.FileID,
		})
	default:
		return g.send(protocol.EventPeerEnvelope, protocol.PeerEnvelopeEvent{
			TargetUserID: env.Target,
			Envelope:     *env,
		})
	}
}

// SendOffer implements the peer manager's signaling path.
func (g *Gateway) SendOffer(targetUserID string, offer json.RawMessage) error {
	return g.send(protocol.EventSignalOffer, protocol.SignalEvent{TargetUserID: targetUserID, Offer: offer})
}

// SendAnswer implements the peer manager's signaling path.
func (g *Gateway) SendAnswer(targetUserID string, answer json.RawMessage) error {
	return g.send(protocol.EventSignalAnswer, protocol.SignalEvent{TargetUserID: targetUserID, Answer: answer})
}

// SendCandidate implements the peer manager's signaling path.
func (g *Gateway) SendCandidate(targetUserID string, candidate json.RawMessage) error {
	return g.send(protocol.EventSignalICE, protocol.SignalEvent{TargetUserID: targetUserID, Candidate: candidate})
}

// sweepLoop discards incoming transfers that have gone idle.
func (g *Gateway) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, id := range g.assembler.SweepIdle() {
				g.logger.Warn().Str("file_id", id).Msg("Discarded idle incoming transfer.")
			}
		case <-g.done:
			return
		}
	}
}

func (g *Gateway) appendHistory(chatID, senderID, messageID, kind, body string, sentAt int64) {
	rec := history.Record{
		ChatID:    chatID,
		MessageID: messageID,
		SenderID:  senderID,
		Kind:      kind,
		Body:      body,
		CreatedAt: time.UnixMilli(sentAt),
	}
	if err := g.hist.Append(rec); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to persist history record.")
	}
}

// joinWSPath converts the configured base URL into the WebSocket endpoint.
func joinWSPath(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}

// httpBase converts the configured base URL into its HTTP origin.
func httpBase(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}
