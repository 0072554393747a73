/*
Package protocol defines the wire protocol shared by the rendezvous server and clients.

This file covers the data plane: the Envelope, a tagged variant over every message
kind that can travel either the direct peer channel (msgpack) or the server relay
(JSON). Both paths decode to the same structure so application of an envelope is
transport-independent.
*/
package protocol

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind tags the variant carried by an Envelope.
type Kind string

const (
	KindChat      Kind = "chat"
	KindTyping    Kind = "typing"
	KindReaction  Kind = "reaction"
	KindEdit      Kind = "edit"
	KindDelete    Kind = "delete"
	KindFileStart Kind = "file-start"
	KindFileChunk Kind = "file-chunk"
	KindFileEnd   Kind = "file-end"
)

var ErrUnknownKind = errors.New("unknown envelope kind")

// Envelope is the tagged message unit of the delivery protocol. Exactly one of
// the variant pointers is set, selected by Kind. ClientMessageID is generated by
// the sender and is globally unique per sender; idempotent apply is keyed on it
// for chat, edit and delete.
type Envelope struct {
	Kind            Kind   `json:"kind" msgpack:"kind"`
	SenderID        string `json:"senderId" msgpack:"senderId"`
	Target          string `json:"target" msgpack:"target"`
	ClientMessageID string `json:"clientMessageId,omitempty" msgpack:"clientMessageId,omitempty"`

	Chat      *ChatPayload     `json:"chat,omitempty" msgpack:"chat,omitempty"`
	Typing    *TypingPayload   `json:"typing,omitempty" msgpack:"typing,omitempty"`
	Reaction  *ReactionPayload `json:"reaction,omitempty" msgpack:"reaction,omitempty"`
	Edit      *EditPayload     `json:"edit,omitempty" msgpack:"edit,omitempty"`
	Delete    *DeletePayload   `json:"delete,omitempty" msgpack:"delete,omitempty"`
	FileStart *FileStartInfo   `json:"fileStart,omitempty" msgpack:"fileStart,omitempty"`
	FileChunk *FileChunkData   `json:"fileChunk,omitempty" msgpack:"fileChunk,omitempty"`
	FileEnd   *FileEndInfo     `json:"fileEnd,omitempty" msgpack:"fileEnd,omitempty"`
}

// ChatPayload is a chat message body. SentAt is a sender-side unix-millis stamp.
type ChatPayload struct {
	MessageID string `json:"messageId" msgpack:"messageId"`
	Text      string `json:"text" msgpack:"text"`
	SentAt    int64  `json:"sentAt" msgpack:"sentAt"`
}

type TypingPayload struct {
	IsTyping bool `json:"isTyping" msgpack:"isTyping"`
}

// ReactionPayload toggles the sender's reaction on a message.
type ReactionPayload struct {
	MessageID string `json:"messageId" msgpack:"messageId"`
	Emoji     string `json:"emoji" msgpack:"emoji"`
}

type EditPayload struct {
	MessageID string `json:"messageId" msgpack:"messageId"`
	NewText   string `json:"newText" msgpack:"newText"`
}

type DeletePayload struct {
	MessageID string `json:"messageId" msgpack:"messageId"`
}

// FileStartInfo announces a transfer: name, size and the exact chunk count the
// receiver must collect before reassembly.
type FileStartInfo struct {
	FileID      string `json:"fileId" msgpack:"fileId"`
	Name        string `json:"name" msgpack:"name"`
	Size        int64  `json:"size" msgpack:"size"`
	TotalChunks int    `json:"totalChunks" msgpack:"totalChunks"`
}

type FileChunkData struct {
	FileID string `json:"fileId" msgpack:"fileId"`
	Index  int    `json:"index" msgpack:"index"`
	Data   []byte `json:"data" msgpack:"data"`
}

type FileEndInfo struct {
	FileID string `json:"fileId" msgpack:"fileId"`
}

// Validate checks that the variant matching Kind is present and the envelope is
// routable. It does not inspect variant contents beyond presence.
func (e *Envelope) Validate() error {
	if e.SenderID == "" || e.Target == "" {
		return fmt.Errorf("envelope missing sender or target")
	}

	var present bool
	switch e.Kind {
	case KindChat:
		present = e.Chat != nil
	case KindTyping:
		present = e.Typing != nil
	case KindReaction:
		present = e.Reaction != nil
	case KindEdit:
		present = e.Edit != nil
	case KindDelete:
		present = e.Delete != nil
	case KindFileStart:
		present = e.FileStart != nil
	case KindFileChunk:
		present = e.FileChunk != nil
	case KindFileEnd:
		present = e.FileEnd != nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}

	if !present {
		return fmt.Errorf("envelope kind %q missing its payload", e.Kind)
	}
	return nil
}

// EncodeDirect serializes the envelope for the direct peer channel.
func (e *Envelope) EncodeDirect() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(e)
}

// DecodeDirect parses an envelope received on the direct peer channel.
func DecodeDirect(data []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
