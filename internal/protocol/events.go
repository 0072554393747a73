/*
Package protocol defines the wire protocol shared by the rendezvous server and clients.

This file covers the control plane: the Frame carried over the WebSocket, the event
name constants, and the payload structures for every control event. The data plane
(the Envelope riding the direct channel or the relay fallback) lives in envelope.go.
*/
package protocol

import "encoding/json"

// Frame is the unit of the control protocol in both directions: an event name
// plus an event-specific JSON payload.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload and wraps it in a Frame for the given event.
func NewFrame(event string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Payload: raw}, nil
}

// Decode unmarshals the frame payload into dst.
func (f Frame) Decode(dst any) error {
	return json.Unmarshal(f.Payload, dst)
}

// Control event names. Client-to-server requests and server-to-client replies
// and broadcasts share one namespace, mirroring the socket event vocabulary the
// browser client speaks.
const (
	EventUserJoin    = "user:join"
	EventUserJoined  = "user:joined"
	EventUserUpdate  = "user:update"
	EventUserUpdated = "user:updated"
	EventUserList    = "user:list"

	EventRoomCreate    = "room:create"
	EventRoomCreated   = "room:created"
	EventRoomJoin      = "room:join"
	EventRoomJoinByPin = "room:joinByPin"
	EventRoomJoined    = "room:joined"
	EventRoomKick      = "room:kick"
	EventRoomKicked    = "room:kicked"
	EventRoomLeave     = "room:leave"
	EventRoomLeft      = "room:left"
	EventRoomUpdate    = "room:update"
	EventRoomList      = "room:list"

	EventRoomMessage       = "room:message"
	EventRoomTyping        = "room:typing"
	EventRoomMessageEdit   = "room:message-edit"
	EventRoomMessageDelete = "room:message-delete"
	EventRoomReaction      = "room:reaction"

	EventSignalOffer  = "signal:offer"
	EventSignalAnswer = "signal:answer"
	EventSignalICE    = "signal:ice"

	EventFileStart = "file:start"
	EventFileChunk = "file:chunk"
	EventFileEnd   = "file:end"

	EventPeerEnvelope = "peer:envelope"

	EventError = "error"
)

// User is the wire representation of an online user.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	JoinedAt  int64  `json:"joinedAt"`
}

// RoomMember is the resolved {id, name} pair embedded in room snapshots.
type RoomMember struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoomInfo is the wire representation of a room. The PIN verifier is never
// serialized.
type RoomInfo struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	IsPrivate  bool         `json:"isPrivate"`
	LeadUserID string       `json:"leadUserId"`
	Members    []RoomMember `json:"members"`
}

// UserJoinRequest asks the server to mint or rebind an identity.
type UserJoinRequest struct {
	Name      string `json:"name"`
	UserID    string `json:"userId,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// UserJoinedReply confirms the identity back to the joining session.
type UserJoinedReply struct {
	UserID string `json:"userId"`
	User   User   `json:"user"`
}

// UserUpdateRequest mutates the profile fields present in the request.
type UserUpdateRequest struct {
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// UserUpdatedReply echoes the updated profile to its owner.
type UserUpdatedReply struct {
	User User `json:"user"`
}

type RoomCreateRequest struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
	Pin       string `json:"pin,omitempty"`
}

type RoomCreatedReply struct {
	RoomID string   `json:"roomId"`
	Room   RoomInfo `json:"room"`
}

type RoomJoinRequest struct {
	RoomID string `json:"roomId"`
	Pin    string `json:"pin,omitempty"`
}

type RoomJoinByPinRequest struct {
	Pin string `json:"pin"`
}

type RoomJoinedReply struct {
	RoomID string   `json:"roomId"`
	Room   RoomInfo `json:"room"`
}

type RoomKickRequest struct {
	RoomID       string `json:"roomId"`
	TargetUserID string `json:"targetUserId"`
}

// RoomKickedEvent is delivered to the removed member only.
type RoomKickedEvent struct {
	RoomID string `json:"roomId"`
}

type RoomLeaveRequest struct {
	RoomID string `json:"roomId"`
}

type RoomLeftEvent struct {
	RoomID string `json:"roomId"`
}

// RoomUpdateEvent is the room-state delta broadcast to remaining members.
type RoomUpdateEvent struct {
	RoomID string   `json:"roomId"`
	Room   RoomInfo `json:"room"`
}

// RoomMessageEvent carries a chat envelope addressed to a room. Outbound the
// FromUserID is empty; the server stamps it before fanout.
type RoomMessageEvent struct {
	RoomID     string      `json:"roomId"`
	FromUserID string      `json:"fromUserId,omitempty"`
	Message    ChatPayload `json:"message"`
}

type RoomTypingEvent struct {
	RoomID     string `json:"roomId"`
	FromUserID string `json:"fromUserId,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}

type RoomMessageEditEvent struct {
	RoomID     string `json:"roomId"`
	FromUserID string `json:"fromUserId,omitempty"`
	MessageID  string `json:"messageId"`
	NewText    string `json:"newText"`
}

type RoomMessageDeleteEvent struct {
	RoomID     string `json:"roomId"`
	FromUserID string `json:"fromUserId,omitempty"`
	MessageID  string `json:"messageId"`
}

type RoomReactionEvent struct {
	RoomID     string `json:"roomId"`
	FromUserID string `json:"fromUserId,omitempty"`
	MessageID  string `json:"messageId"`
	Emoji      string `json:"emoji"`
}

// SignalEvent carries one connection-negotiation message between two endpoints.
// The server never interprets the SDP or candidate body; it only resolves the
// target and stamps the origin.
type SignalEvent struct {
	TargetUserID string          `json:"targetUserId,omitempty"`
	FromUserID   string          `json:"fromUserId,omitempty"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// FileStartEvent opens a relayed file transfer toward a peer.
type FileStartEvent struct {
	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
	FileID       string `json:"fileId"`
	FileName     string `json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	TotalChunks  int    `json:"totalChunks"`
}

// FileChunkEvent carries one chunk over the relay fallback. Chunk bytes are
// base64 in JSON transit.
type FileChunkEvent struct {
	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
	FileID       string `json:"fileId"`
	ChunkIndex   int    `json:"chunkIndex"`
	Chunk        []byte `json:"chunk"`
}

type FileEndEvent struct {
	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`
	FileID       string `json:"fileId"`
}

// PeerEnvelopeEvent is the relay fallback for peer-addressed envelopes. The
// server treats the inner envelope as opaque.
type PeerEnvelopeEvent struct {
	TargetUserID string   `json:"targetUserId,omitempty"`
	FromUserID   string   `json:"fromUserId,omitempty"`
	Envelope     Envelope `json:"envelope"`
}

// ErrorEvent is sent only to the session whose request failed.
type ErrorEvent struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
