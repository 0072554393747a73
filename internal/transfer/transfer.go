/*
Package transfer implements chunked file transfer over the delivery protocol.

A file is split into fixed-size chunks and shipped as a file-start, file-chunk*,
file-end envelope sequence over whichever transport is active. Chunks are sent
in index order with sequential backpressure, but the receiver indexes by chunk
index and tolerates out-of-order and duplicate arrival, because the relay and
direct paths do not share an ordering domain when a transfer straddles a link
transition.
*/
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peerchat/internal/pkg/randx"
	"peerchat/internal/protocol"
)

const (
	// ChunkSize is the fixed chunk size of the protocol.
	ChunkSize = 512 * 1024

	// DirectChunkDelay paces chunk emission on the direct channel to avoid
	// saturating its send buffer.
	DirectChunkDelay = 5 * time.Millisecond

	// RelayChunkDelay paces chunk emission through the relay, which has a
	// lower throughput ceiling.
	RelayChunkDelay = 50 * time.Millisecond

	// IdleRetention bounds how long an inactive incoming transfer is kept
	// before being discarded.
	IdleRetention = 2 * time.Minute
)

var (
	// ErrTransferIncomplete reports file-end seen before all chunks arrived.
	ErrTransferIncomplete = errors.New("transfer incomplete")

	// ErrDuplicateTransfer reports a fileId reuse while a transfer with that
	// id is still live.
	ErrDuplicateTransfer = errors.New("duplicate transfer id")

	// ErrUnknownTransfer reports a chunk for a fileId that was never started
	// or already discarded.
	ErrUnknownTransfer = errors.New("unknown transfer id")
)

// TotalChunks computes the chunk count for a payload of the given size.
func TotalChunks(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + ChunkSize - 1) / ChunkSize)
}

// SendFunc delivers one envelope toward the target and reports whether it went
// over the direct channel. It must not return before the underlying send call
// has returned control; the sender relies on that for backpressure.
type SendFunc func(env *protocol.Envelope) (direct bool, err error)

// Send splits data into chunks and emits the start/chunk*/end sequence via
// send. It returns the generated fileId. No chunk is sent before the prior
// chunk's send call has returned, and a pacing delay follows each chunk sized
// to the transport that actually carried it.
func Send(ctx context.Context, send SendFunc, senderID, target, name string, data []byte) (string, error) {
	fileID := randx.NewID()
	total := TotalChunks(int64(len(data)))

	start := &protocol.Envelope{
		Kind:     protocol.KindFileStart,
		SenderID: senderID,
		Target:   target,
		FileStart: &protocol.FileStartInfo{
			FileID:      fileID,
			Name:        name,
			Size:        int64(len(data)),
			TotalChunks: total,
		},
	}
	if _, err := send(start); err != nil {
		return "", fmt.Errorf("send file-start: %w", err)
	}

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		lo := i * ChunkSize
		hi := lo + ChunkSize
		if hi > len(data) {
			hi = len(data)
		}

		chunk := &protocol.Envelope{
			Kind:     protocol.KindFileChunk,
			SenderID: senderID,
			Target:   target,
			FileChunk: &protocol.FileChunkData{
				FileID: fileID,
				Index:  i,
				Data:   data[lo:hi],
			},
		}

		direct, err := send(chunk)
		if err != nil {
			return "", fmt.Errorf("send chunk %d/%d: %w", i, total, err)
		}

		delay := RelayChunkDelay
		if direct {
			delay = DirectChunkDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	end := &protocol.Envelope{
		Kind:     protocol.KindFileEnd,
		SenderID: senderID,
		Target:   target,
		FileEnd:  &protocol.FileEndInfo{FileID: fileID},
	}
	if _, err := send(end); err != nil {
		return "", fmt.Errorf("send file-end: %w", err)
	}

	return fileID, nil
}
