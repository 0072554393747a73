/*
Package peer implements the client-side peer link manager: the negotiation state
machine around a WebRTC connection and the resulting direct data channel.

This file defines the Link, the per-remote-peer state record. A link is owned
by a Manager and all of its fields are guarded by the Manager's mutex; pion
callbacks re-enter the manager rather than touching the link directly.
*/
package peer

import (
	"time"

	"github.com/pion/webrtc/v4"
)

// State is the lifecycle phase of a peer link.
type State string

const (
	StateAbsent      State = "absent"
	StateNegotiating State = "negotiating"
	StateEstablished State = "established"
	StateClosed      State = "closed"
	StateFailed      State = "failed"
)

// Link is the authoritative record for one (local, remote) ordered pair. At
// most one Link per pair exists at a time.
type Link struct {
	remoteID string

	state State

	// initiator records which side sent the offer; it decides glare handling.
	initiator bool

	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	// remoteSet flags that the remote description was applied; candidates
	// arriving before that are buffered and flushed in arrival order.
	remoteSet         bool
	pendingCandidates []webrtc.ICECandidateInit

	// epoch distinguishes this negotiation attempt from earlier ones so stale
	// pion callbacks cannot mutate a replacement link.
	epoch uint64

	negotiationTimer *time.Timer
}

// stopTimer cancels the pending negotiation deadline, if any.
func (l *Link) stopTimer() {
	if l.negotiationTimer != nil {
		l.negotiationTimer.Stop()
		l.negotiationTimer = nil
	}
}
