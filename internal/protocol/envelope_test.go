package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresMatchingVariant(t *testing.T) {
	env := &Envelope{Kind: KindChat, SenderID: "a", Target: "b"}
	require.Error(t, env.Validate())

	env.Chat = &ChatPayload{MessageID: "m1", Text: "hi", SentAt: 1}
	require.NoError(t, env.Validate())

	// A stray extra variant is tolerated; only the tagged one is read.
	env.Typing = &TypingPayload{}
	require.NoError(t, env.Validate())
}

func TestValidateRequiresRouting(t *testing.T) {
	env := &Envelope{Kind: KindTyping, Typing: &TypingPayload{}}
	require.Error(t, env.Validate())

	env.SenderID = "a"
	require.Error(t, env.Validate())

	env.Target = "b"
	require.NoError(t, env.Validate())
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	env := &Envelope{Kind: "telepathy", SenderID: "a", Target: "b"}
	require.ErrorIs(t, env.Validate(), ErrUnknownKind)
}

func TestDirectRoundTrip(t *testing.T) {
	env := &Envelope{
		Kind:            KindEdit,
		SenderID:        "a",
		Target:          "b",
		ClientMessageID: "c1",
		Edit:            &EditPayload{MessageID: "m1", NewText: "fixed"},
	}

	data, err := env.EncodeDirect()
	require.NoError(t, err)

	got, err := DecodeDirect(data)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestDecodeDirectRejectsInvalid(t *testing.T) {
	// Well-formed msgpack but not a routable envelope.
	env := &Envelope{Kind: KindChat, SenderID: "a", Target: "b", Chat: &ChatPayload{MessageID: "m1"}}
	data, err := env.EncodeDirect()
	require.NoError(t, err)

	_, err = DecodeDirect(data[:len(data)/2])
	require.Error(t, err)
}
