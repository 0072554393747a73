package chatstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	NopSink
	messages  int
	edits     int
	deletes   int
	reactions [][]string
}

func (r *recordingSink) OnMessage(string, Message)       { r.messages++ }
func (r *recordingSink) OnEdit(string, string, string)   { r.edits++ }
func (r *recordingSink) OnDelete(string, string)         { r.deletes++ }
func (r *recordingSink) OnReaction(_, _, _ string, reactors []string) {
	r.reactions = append(r.reactions, reactors)
}

func TestApplyChatIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)

	require.True(t, s.ApplyChat("room1", "alice", "m1", "hello", 1000))
	require.False(t, s.ApplyChat("room1", "alice", "m1", "hello", 1000))
	require.False(t, s.ApplyChat("room1", "alice", "m1", "hello again", 2000))

	msgs := s.Messages("room1")
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Text)
	require.Equal(t, 1, sink.messages)
}

func TestMessagesKeepArrivalOrder(t *testing.T) {
	s := New(nil)

	s.ApplyChat("room1", "alice", "m1", "first", 3000)
	s.ApplyChat("room1", "bob", "m2", "second", 1000)

	msgs := s.Messages("room1")
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m2", msgs[1].ID)
}

func TestApplyEdit(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)
	s.ApplyChat("room1", "alice", "m1", "helo", 1000)

	require.True(t, s.ApplyEdit("room1", "", "m1", "hello"))
	// Same text again is suppressed.
	require.False(t, s.ApplyEdit("room1", "", "m1", "hello"))
	// Unknown message is a no-op.
	require.False(t, s.ApplyEdit("room1", "", "nope", "x"))

	msgs := s.Messages("room1")
	require.Equal(t, "hello", msgs[0].Text)
	require.True(t, msgs[0].Edited)
	require.Equal(t, 1, sink.edits)
}

func TestApplyDeleteTombstones(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)
	s.ApplyChat("room1", "alice", "m1", "hello", 1000)

	require.True(t, s.ApplyDelete("room1", "", "m1"))
	require.False(t, s.ApplyDelete("room1", "", "m1"))
	// Edits after deletion are suppressed.
	require.False(t, s.ApplyEdit("room1", "", "m1", "resurrected"))
	// The tombstone still absorbs a redelivered original.
	require.False(t, s.ApplyChat("room1", "alice", "m1", "hello", 1000))

	require.Empty(t, s.Messages("room1"))
	require.Equal(t, 1, sink.deletes)
}

func TestReactionToggles(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)
	s.ApplyChat("room1", "alice", "m1", "hello", 1000)

	s.ApplyReaction("room1", "op1", "m1", "👍", "bob")
	require.Equal(t, []string{"bob"}, s.Reactors("room1", "m1", "👍"))

	s.ApplyReaction("room1", "op2", "m1", "👍", "carol")
	require.Equal(t, []string{"bob", "carol"}, s.Reactors("room1", "m1", "👍"))

	// A second application from the same user removes the reaction.
	s.ApplyReaction("room1", "op3", "m1", "👍", "bob")
	require.Equal(t, []string{"carol"}, s.Reactors("room1", "m1", "👍"))

	require.Len(t, sink.reactions, 3)
	require.Equal(t, []string{"carol"}, sink.reactions[2])
}

func TestRedeliveredReactionDoesNotUntoggle(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)
	s.ApplyChat("peer-bob", "bob", "m1", "hello", 1000)

	require.True(t, s.ApplyReaction("peer-bob", "op1", "m1", "👍", "bob"))
	require.Equal(t, []string{"bob"}, s.Reactors("peer-bob", "m1", "👍"))

	// The relay redelivers the same operation; the reaction must stay on.
	require.False(t, s.ApplyReaction("peer-bob", "op1", "m1", "👍", "bob"))
	require.Equal(t, []string{"bob"}, s.Reactors("peer-bob", "m1", "👍"))
	require.Len(t, sink.reactions, 1)

	// A fresh operation from the same user still toggles it off.
	require.True(t, s.ApplyReaction("peer-bob", "op2", "m1", "👍", "bob"))
	require.Empty(t, s.Reactors("peer-bob", "m1", "👍"))
}

func TestReplayedEditDoesNotRevertLaterEdit(t *testing.T) {
	s := New(nil)
	s.ApplyChat("peer-bob", "bob", "m1", "original", 1000)

	require.True(t, s.ApplyEdit("peer-bob", "e1", "m1", "first edit"))
	require.True(t, s.ApplyEdit("peer-bob", "e2", "m1", "second edit"))

	// A retransmission of the first edit arrives after the second.
	require.False(t, s.ApplyEdit("peer-bob", "e1", "m1", "first edit"))
	require.Equal(t, "second edit", s.Messages("peer-bob")[0].Text)
}

func TestReplayedDeleteIsNoOp(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink)
	s.ApplyChat("peer-bob", "bob", "m1", "hello", 1000)

	require.True(t, s.ApplyDelete("peer-bob", "d1", "m1"))
	require.False(t, s.ApplyDelete("peer-bob", "d1", "m1"))
	require.Equal(t, 1, sink.deletes)
}

func TestEditBeforeTargetCanLandOnRetransmission(t *testing.T) {
	s := New(nil)

	// The edit overtakes its target message across transports.
	require.False(t, s.ApplyEdit("peer-bob", "e1", "m1", "fixed"))

	s.ApplyChat("peer-bob", "bob", "m1", "typo", 1000)
	require.True(t, s.ApplyEdit("peer-bob", "e1", "m1", "fixed"))
	require.Equal(t, "fixed", s.Messages("peer-bob")[0].Text)
}

func TestReactionsArePerEmoji(t *testing.T) {
	s := New(nil)
	s.ApplyChat("room1", "alice", "m1", "hello", 1000)

	s.ApplyReaction("room1", "op1", "m1", "👍", "bob")
	s.ApplyReaction("room1", "op2", "m1", "🎉", "bob")

	require.Equal(t, []string{"bob"}, s.Reactors("room1", "m1", "👍"))
	require.Equal(t, []string{"bob"}, s.Reactors("room1", "m1", "🎉"))
}

func TestChatsAreIsolated(t *testing.T) {
	s := New(nil)

	s.ApplyChat("room1", "alice", "m1", "one", 1000)
	s.ApplyChat("peer-bob", "bob", "m1", "two", 1000)

	require.Equal(t, "one", s.Messages("room1")[0].Text)
	require.Equal(t, "two", s.Messages("peer-bob")[0].Text)
}
