package transfer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerchat/internal/protocol"
)

func TestTotalChunks(t *testing.T) {
	require.Equal(t, 0, TotalChunks(0))
	require.Equal(t, 1, TotalChunks(1))
	require.Equal(t, 1, TotalChunks(ChunkSize))
	require.Equal(t, 2, TotalChunks(ChunkSize+1))
	require.Equal(t, 3, TotalChunks(1_300_000))
}

// collectEnvelopes returns a SendFunc recording every envelope in call order.
func collectEnvelopes(dst *[]*protocol.Envelope, direct bool) SendFunc {
	return func(env *protocol.Envelope) (bool, error) {
		*dst = append(*dst, env)
		return direct, nil
	}
}

func TestSendEmitsOrderedSequence(t *testing.T) {
	data := make([]byte, 1_300_000)
	for i := range data {
		data[i] = byte(i)
	}

	var sent []*protocol.Envelope
	fileID, err := Send(context.Background(), collectEnvelopes(&sent, true), "alice", "bob", "blob.bin", data)
	require.NoError(t, err)
	require.NotEmpty(t, fileID)

	// start, 3 chunks, end
	require.Len(t, sent, 5)

	start := sent[0]
	require.Equal(t, protocol.KindFileStart, start.Kind)
	require.Equal(t, "alice", start.SenderID)
	require.Equal(t, "bob", start.Target)
	require.Equal(t, fileID, start.FileStart.FileID)
	require.Equal(t, int64(len(data)), start.FileStart.Size)
	require.Equal(t, 3, start.FileStart.TotalChunks)

	var reassembled []byte
	for i, env := range sent[1:4] {
		require.Equal(t, protocol.KindFileChunk, env.Kind)
		require.Equal(t, i, env.FileChunk.Index)
		reassembled = append(reassembled, env.FileChunk.Data...)
	}
	require.True(t, bytes.Equal(data, reassembled))

	require.Equal(t, protocol.KindFileEnd, sent[4].Kind)
	require.Equal(t, fileID, sent[4].FileEnd.FileID)
}

func TestSendEmptyFile(t *testing.T) {
	var sent []*protocol.Envelope
	_, err := Send(context.Background(), collectEnvelopes(&sent, true), "alice", "bob", "empty", nil)
	require.NoError(t, err)

	// No chunks, just the framing.
	require.Len(t, sent, 2)
	require.Equal(t, 0, sent[0].FileStart.TotalChunks)
}

func TestSendStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var sent []*protocol.Envelope
	send := func(env *protocol.Envelope) (bool, error) {
		sent = append(sent, env)
		if len(sent) == 2 {
			cancel()
		}
		return true, nil
	}

	data := make([]byte, 3*ChunkSize)
	_, err := Send(ctx, send, "alice", "bob", "blob.bin", data)
	require.ErrorIs(t, err, context.Canceled)
	// No file-end after abandonment.
	for _, env := range sent {
		require.NotEqual(t, protocol.KindFileEnd, env.Kind)
	}
}

func TestAssemblerOutOfOrder(t *testing.T) {
	data := make([]byte, 1_300_000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	total := TotalChunks(int64(len(data)))
	chunk := func(i int) []byte {
		lo := i * ChunkSize
		hi := lo + ChunkSize
		if hi > len(data) {
			hi = len(data)
		}
		return data[lo:hi]
	}

	a := NewAssembler()
	require.NoError(t, a.Start("alice", "f1", "blob.bin", int64(len(data)), total, true))

	for _, i := range []int{1, 0, 2} {
		done, prog, err := a.Chunk("f1", i, chunk(i), true)
		require.NoError(t, err)
		require.NotNil(t, prog)
		if prog.Received == total {
			require.NotNil(t, done)
			require.True(t, bytes.Equal(data, done.Data))
			require.Equal(t, "alice", done.SenderID)
		} else {
			require.Nil(t, done)
		}
	}

	// Completion removed the state; end is a no-op.
	done, err := a.End("f1")
	require.NoError(t, err)
	require.Nil(t, done)
	require.Equal(t, 0, a.Pending())
}

func TestAssemblerDuplicateChunksAreIdempotent(t *testing.T) {
	a := NewAssembler()
	require.NoError(t, a.Start("alice", "f1", "x", 10, 2, true))

	_, prog, err := a.Chunk("f1", 0, []byte("hello"), true)
	require.NoError(t, err)
	require.Equal(t, 1, prog.Received)

	_, prog, err = a.Chunk("f1", 0, []byte("hello"), true)
	require.NoError(t, err)
	require.Equal(t, 1, prog.Received)

	done, _, err := a.Chunk("f1", 1, []byte("world"), true)
	require.NoError(t, err)
	require.NotNil(t, done)
	require.Equal(t, []byte("helloworld"), done.Data)
}

func TestAssemblerIncompleteEnd(t *testing.T) {
	a := NewAssembler()
	require.NoError(t, a.Start("alice", "f1", "x", int64(3*ChunkSize), 3, true))

	_, _, err := a.Chunk("f1", 0, make([]byte, ChunkSize), true)
	require.NoError(t, err)
	_, _, err = a.Chunk("f1", 2, make([]byte, ChunkSize), true)
	require.NoError(t, err)

	done, err := a.End("f1")
	require.Nil(t, done)
	require.ErrorIs(t, err, ErrTransferIncomplete)

	// The partial state is gone; late chunks are rejected.
	_, _, err = a.Chunk("f1", 1, make([]byte, ChunkSize), true)
	require.ErrorIs(t, err, ErrUnknownTransfer)
}

func TestAssemblerRejectsLiveDuplicateID(t *testing.T) {
	a := NewAssembler()
	require.NoError(t, a.Start("alice", "f1", "x", 10, 1, true))
	require.ErrorIs(t, a.Start("bob", "f1", "y", 20, 2, true), ErrDuplicateTransfer)

	// Once finished the id may be reused.
	done, _, err := a.Chunk("f1", 0, []byte("0123456789"), true)
	require.NoError(t, err)
	require.NotNil(t, done)
	require.NoError(t, a.Start("bob", "f1", "y", 20, 2, true))
}

func TestAssemblerChunkRange(t *testing.T) {
	a := NewAssembler()
	require.NoError(t, a.Start("alice", "f1", "x", 10, 2, true))

	_, _, err := a.Chunk("f1", -1, nil, true)
	require.Error(t, err)
	_, _, err = a.Chunk("f1", 2, nil, true)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnknownTransfer))
}

func TestAssemblerAbandonFrom(t *testing.T) {
	a := NewAssembler()
	require.NoError(t, a.Start("alice", "f1", "x", 10, 2, true))
	require.NoError(t, a.Start("alice", "f2", "y", 10, 2, true))
	require.NoError(t, a.Start("bob", "f3", "z", 10, 2, true))

	dropped := a.AbandonFrom("alice")
	require.ElementsMatch(t, []string{"f1", "f2"}, dropped)
	require.Equal(t, 1, a.Pending())
}

func TestAbandonFromSparesRelayTransfers(t *testing.T) {
	a := NewAssembler()

	// f1 rides the direct channel, f2 arrives over the relay from the same
	// sender. Closing the link must only lose f1.
	require.NoError(t, a.Start("alice", "f1", "x", 10, 2, true))
	require.NoError(t, a.Start("alice", "f2", "y", 10, 2, false))
	_, _, err := a.Chunk("f2", 0, []byte("hello"), false)
	require.NoError(t, err)

	dropped := a.AbandonFrom("alice")
	require.Equal(t, []string{"f1"}, dropped)

	done, _, err := a.Chunk("f2", 1, []byte("world"), false)
	require.NoError(t, err)
	require.NotNil(t, done)
	require.Equal(t, []byte("helloworld"), done.Data)
}

func TestAbandonFromSparesTransferSwitchedToRelay(t *testing.T) {
	a := NewAssembler()

	// The transfer starts direct, then its chunks fall back to the relay.
	require.NoError(t, a.Start("alice", "f1", "x", 10, 2, true))
	_, _, err := a.Chunk("f1", 0, []byte("hello"), false)
	require.NoError(t, err)

	require.Empty(t, a.AbandonFrom("alice"))
	require.Equal(t, 1, a.Pending())
}

func TestAssemblerSweepIdle(t *testing.T) {
	a := NewAssembler()
	base := time.Now()
	a.now = func() time.Time { return base }

	require.NoError(t, a.Start("alice", "old", "x", 10, 2, false))

	a.now = func() time.Time { return base.Add(IdleRetention / 2) }
	require.NoError(t, a.Start("bob", "fresh", "y", 10, 2, false))

	a.now = func() time.Time { return base.Add(IdleRetention + time.Second) }
	dropped := a.SweepIdle()
	require.Equal(t, []string{"old"}, dropped)
	require.Equal(t, 1, a.Pending())
}
