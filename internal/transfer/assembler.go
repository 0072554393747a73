/*
Package transfer implements chunked file transfer over the delivery protocol.

This file defines the receiving side: an Assembler tracking every incoming
transfer, indexing chunks by index, and reassembling exactly when all chunks
0..N-1 have arrived. Transfer state lives only for the duration of one transfer
and is discarded once reassembled or abandoned.
*/
package transfer

import (
	"fmt"
	"sync"
	"time"
)

// Completed is a fully reassembled file.
type Completed struct {
	FileID   string
	SenderID string
	Name     string
	Data     []byte
}

// Progress reports chunk arrival for UI consumption.
type Progress struct {
	FileID   string
	Name     string
	Received int
	Total    int
}

// incoming is one in-flight inbound transfer.
type incoming struct {
	fileID       string
	senderID     string
	name         string
	size         int64
	totalChunks  int
	chunks       map[int][]byte
	lastActivity time.Time

	// direct tracks which transport carried the latest activity. A transfer
	// that falls back to the relay mid-flight is no longer tied to the link.
	direct bool
}

// Assembler tracks all inbound transfers for one client. Safe for concurrent
// use; the gateway feeds it from both the direct channel and the relay.
type Assembler struct {
	mu        sync.Mutex
	transfers map[string]*incoming
	now       func() time.Time
}

// NewAssembler constructs an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		transfers: make(map[string]*incoming),
		now:       time.Now,
	}
}

// Start registers an announced transfer. direct marks the transport that
// delivered the announcement. A fileId already live for this receiver is
// rejected so an abandoned transfer can never corrupt a later one reusing its
// id.
func (a *Assembler) Start(senderID, fileID, name string, size int64, totalChunks int, direct bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, live := a.transfers[fileID]; live {
		return fmt.Errorf("%w: %s", ErrDuplicateTransfer, fileID)
	}

	a.transfers[fileID] = &incoming{
		fileID:       fileID,
		senderID:     senderID,
		name:         name,
		size:         size,
		totalChunks:  totalChunks,
		chunks:       make(map[int][]byte),
		lastActivity: a.now(),
		direct:       direct,
	}
	return nil
}

// Chunk records one chunk. Duplicate indexes overwrite idempotently. When the
// final missing chunk arrives the transfer is reassembled and removed, without
// waiting for file-end.
func (a *Assembler) Chunk(fileID string, index int, data []byte, direct bool) (*Completed, *Progress, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.transfers[fileID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTransfer, fileID)
	}
	if index < 0 || index >= t.totalChunks {
		return nil, nil, fmt.Errorf("chunk index %d out of range for %s", index, fileID)
	}

	t.chunks[index] = data
	t.lastActivity = a.now()
	t.direct = direct

	prog := &Progress{FileID: fileID, Name: t.name, Received: len(t.chunks), Total: t.totalChunks}

	if len(t.chunks) == t.totalChunks {
		done := assemble(t)
		delete(a.transfers, fileID)
		return done, prog, nil
	}
	return nil, prog, nil
}

// End handles the completion signal. For a transfer already reassembled (or
// never known) it is a no-op. For a live transfer with chunks missing the
// state is discarded and ErrTransferIncomplete returned: a diagnostic failure,
// never a silent partial file.
func (a *Assembler) End(fileID string) (*Completed, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.transfers[fileID]
	if !ok {
		return nil, nil
	}

	if len(t.chunks) == t.totalChunks {
		done := assemble(t)
		delete(a.transfers, fileID)
		return done, nil
	}

	delete(a.transfers, fileID)
	return nil, fmt.Errorf("%w: %s has %d of %d chunks", ErrTransferIncomplete, fileID, len(t.chunks), t.totalChunks)
}

// AbandonFrom discards the in-flight transfers a closed peer link was
// carrying. Transfers from the same sender arriving over the relay are
// untouched; the relay outlives the link.
func (a *Assembler) AbandonFrom(senderID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var dropped []string
	for id, t := range a.transfers {
		if t.senderID == senderID && t.direct {
			delete(a.transfers, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// SweepIdle discards transfers with no chunk activity within IdleRetention,
// bounding memory under churn. Returns the discarded fileIds.
func (a *Assembler) SweepIdle() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-IdleRetention)
	var dropped []string
	for id, t := range a.transfers {
		if t.lastActivity.Before(cutoff) {
			delete(a.transfers, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// Pending returns the number of in-flight inbound transfers.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.transfers)
}

func assemble(t *incoming) *Completed {
	data := make([]byte, 0, t.size)
	for i := 0; i < t.totalChunks; i++ {
		data = append(data, t.chunks[i]...)
	}
	return &Completed{FileID: t.fileID, SenderID: t.senderID, Name: t.name, Data: data}
}
