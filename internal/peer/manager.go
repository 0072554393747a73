// The Manager owns one Link per remote peer, drives offer/answer/candidate
// exchange through a Signaler, resolves the simultaneous mutual-offer race
// deterministically, and routes envelope sends over the direct channel when
// it is established.

package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"peerchat/internal/pkg/logx"
	"peerchat/internal/protocol"
)

// DefaultNegotiationTimeout bounds how long a link may stay in negotiating
// before it is marked failed and sends fall back to the relay.
const DefaultNegotiationTimeout = 30 * time.Second

// dataChannelLabel names the single ordered channel the delivery protocol uses.
const dataChannelLabel = "messages"

var (
	// ErrNotEstablished reports a send attempted while no direct channel is
	// usable; callers fall back to the relay.
	ErrNotEstablished = errors.New("peer link not established")

	// ErrNegotiationTimeout reports a link that never reached established
	// within the configured bound.
	ErrNegotiationTimeout = errors.New("peer link negotiation timed out")
)

// Signaler carries negotiation messages to the remote peer through the relay.
// Payloads are the JSON encodings of the session description or candidate.
type Signaler interface {
	SendOffer(targetUserID string, offer json.RawMessage) error
	SendAnswer(targetUserID string, answer json.RawMessage) error
	SendCandidate(targetUserID string, candidate json.RawMessage) error
}

// Options configures a Manager.
type Options struct {
	// STUNServers dialed during candidate gathering, e.g. "stun:host:port".
	STUNServers []string

	// NegotiationTimeout overrides DefaultNegotiationTimeout when positive.
	NegotiationTimeout time.Duration

	// OnEnvelope is invoked for every envelope received on a direct channel.
	OnEnvelope func(remoteID string, env *protocol.Envelope)

	// OnStateChange is invoked on every link state transition.
	OnStateChange func(remoteID string, state State)
}

// Manager owns every peer link of one local user.
type Manager struct {
	localID string
	sig     Signaler
	opts    Options

	mu    sync.Mutex
	links map[string]*Link
	// epoch increments per negotiation attempt across all links.
	epoch uint64

	logger zerolog.Logger
}

// NewManager constructs a Manager for localID signaling through sig.
func NewManager(localID string, sig Signaler, opts Options) *Manager {
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = DefaultNegotiationTimeout
	}
	return &Manager{
		localID: localID,
		sig:     sig,
		opts:    opts,
		links:   make(map[string]*Link),
		logger:  logx.Component("peer").With().Str("local_id", localID).Logger(),
	}
}

// State returns the current link state toward remoteID.
func (m *Manager) State(remoteID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[remoteID]
	if !ok {
		return StateAbsent
	}
	return l.state
}

// newPeerConnection builds a pion connection with the configured ICE servers.
func (m *Manager) newPeerConnection() (*webrtc.PeerConnection, error) {
	var iceServers []webrtc.ICEServer
	if len(m.opts.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: m.opts.STUNServers})
	}
	return webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
}

// Dial starts negotiation toward remoteID as initiator. A link already
// negotiating or established is left alone.
func (m *Manager) Dial(remoteID string) error {
	m.mu.Lock()

	if l, ok := m.links[remoteID]; ok && (l.state == StateNegotiating || l.state == StateEstablished) {
		m.mu.Unlock()
		return nil
	}

	pc, err := m.newPeerConnection()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create peer connection: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		m.mu.Unlock()
		return fmt.Errorf("create data channel: %w", err)
	}

	m.epoch++
	l := &Link{
		remoteID:  remoteID,
		state:     StateNegotiating,
		initiator: true,
		pc:        pc,
		dc:        dc,
		epoch:     m.epoch,
	}
	m.links[remoteID] = l
	m.installHandlers(l)
	m.armTimerLocked(l)
	m.mu.Unlock()

	m.notify(remoteID, StateNegotiating)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		m.fail(remoteID, l.epoch)
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.fail(remoteID, l.epoch)
		return fmt.Errorf("set local description: %w", err)
	}

	raw, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		m.fail(remoteID, l.epoch)
		return err
	}
	if err := m.sig.SendOffer(remoteID, raw); err != nil {
		m.fail(remoteID, l.epoch)
		return fmt.Errorf("send offer: %w", err)
	}

	m.logger.Info().Str("remote_id", remoteID).Msg("Peer link negotiation started.")
	return nil
}

// HandleOffer processes an inbound offer, resolving the mutual-offer race: the
// initiator with the lexicographically smaller identifier wins, and the other
// side discards its own outbound offer and answers the incoming one.
func (m *Manager) HandleOffer(fromID string, raw json.RawMessage) error {
	m.mu.Lock()

	if l, ok := m.links[fromID]; ok {
		switch l.state {
		case StateNegotiating:
			if l.initiator && m.localID < fromID {
				// Our offer wins; the remote will answer it.
				m.mu.Unlock()
				m.logger.Info().Str("remote_id", fromID).Msg("Mutual offer race: local offer wins, ignoring remote offer.")
				return nil
			}
			if !l.initiator {
				// Already answering an offer from this peer.
				m.mu.Unlock()
				return nil
			}
			// Remote offer wins; roll back ours.
			m.logger.Info().Str("remote_id", fromID).Msg("Mutual offer race: remote offer wins, discarding local offer.")
			m.teardownLocked(l)
		case StateEstablished:
			// Remote restarted negotiation; replace the stale link.
			m.teardownLocked(l)
		default:
			m.teardownLocked(l)
		}
	}

	pc, err := m.newPeerConnection()
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("create peer connection: %w", err)
	}

	m.epoch++
	l := &Link{
		remoteID:  fromID,
		state:     StateNegotiating,
		initiator: false,
		pc:        pc,
		epoch:     m.epoch,
	}
	m.links[fromID] = l
	epoch := l.epoch

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		m.adoptDataChannel(fromID, epoch, dc)
	})
	m.installHandlers(l)
	m.armTimerLocked(l)
	m.mu.Unlock()

	m.notify(fromID, StateNegotiating)

	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		m.fail(fromID, epoch)
		return fmt.Errorf("parse offer: %w", err)
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		m.fail(fromID, epoch)
		return fmt.Errorf("set remote description: %w", err)
	}

	m.flushCandidates(fromID, epoch)

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		m.fail(fromID, epoch)
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		m.fail(fromID, epoch)
		return fmt.Errorf("set local description: %w", err)
	}

	out, err := json.Marshal(pc.LocalDescription())
	if err != nil {
		m.fail(fromID, epoch)
		return err
	}
	if err := m.sig.SendAnswer(fromID, out); err != nil {
		m.fail(fromID, epoch)
		return fmt.Errorf("send answer: %w", err)
	}

	return nil
}

// HandleAnswer applies the remote answer to our pending offer.
func (m *Manager) HandleAnswer(fromID string, raw json.RawMessage) error {
	m.mu.Lock()
	l, ok := m.links[fromID]
	if !ok || !l.initiator || l.state != StateNegotiating {
		m.mu.Unlock()
		m.logger.Warn().Str("remote_id", fromID).Msg("Dropping answer with no matching outbound offer.")
		return nil
	}
	pc := l.pc
	epoch := l.epoch
	m.mu.Unlock()

	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return fmt.Errorf("parse answer: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	m.flushCandidates(fromID, epoch)
	return nil
}

// HandleCandidate applies a network-path candidate in arrival order, buffering
// it when the remote description is not yet applied.
func (m *Manager) HandleCandidate(fromID string, raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}

	m.mu.Lock()
	l, ok := m.links[fromID]
	if !ok || l.state == StateClosed || l.state == StateFailed {
		m.mu.Unlock()
		return nil
	}
	if !l.remoteSet {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		m.mu.Unlock()
		return nil
	}
	pc := l.pc
	m.mu.Unlock()

	return pc.AddICECandidate(candidate)
}

// flushCandidates marks the remote description applied and drains the buffer
// in arrival order.
func (m *Manager) flushCandidates(remoteID string, epoch uint64) {
	m.mu.Lock()
	l, ok := m.links[remoteID]
	if !ok || l.epoch != epoch {
		m.mu.Unlock()
		return
	}
	l.remoteSet = true
	pending := l.pendingCandidates
	l.pendingCandidates = nil
	pc := l.pc
	m.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			m.logger.Warn().Err(err).Str("remote_id", remoteID).Msg("Failed to apply buffered candidate.")
		}
	}
}

// installHandlers wires candidate gathering, channel readiness and failure
// detection. Caller holds m.mu.
func (m *Manager) installHandlers(l *Link) {
	remoteID := l.remoteID
	epoch := l.epoch

	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		if err := m.sig.SendCandidate(remoteID, raw); err != nil {
			m.logger.Warn().Err(err).Str("remote_id", remoteID).Msg("Failed to send candidate.")
		}
	})

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			m.close(remoteID, epoch)
		}
	})

	if l.dc != nil {
		m.bindChannel(remoteID, epoch, l.dc)
	}
}

// adoptDataChannel attaches the responder side's inbound channel to its link.
func (m *Manager) adoptDataChannel(remoteID string, epoch uint64, dc *webrtc.DataChannel) {
	m.mu.Lock()
	l, ok := m.links[remoteID]
	if !ok || l.epoch != epoch {
		m.mu.Unlock()
		return
	}
	l.dc = dc
	m.mu.Unlock()

	m.bindChannel(remoteID, epoch, dc)
}

// bindChannel wires open/close/message callbacks for a data channel.
func (m *Manager) bindChannel(remoteID string, epoch uint64, dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		m.mu.Lock()
		l, ok := m.links[remoteID]
		if !ok || l.epoch != epoch {
			m.mu.Unlock()
			return
		}
		l.state = StateEstablished
		l.stopTimer()
		m.mu.Unlock()

		m.logger.Info().Str("remote_id", remoteID).Msg("Peer link established.")
		m.notify(remoteID, StateEstablished)
	})

	dc.OnClose(func() {
		m.close(remoteID, epoch)
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		env, err := protocol.DecodeDirect(msg.Data)
		if err != nil {
			m.logger.Warn().Err(err).Str("remote_id", remoteID).Msg("Dropping undecodable direct envelope.")
			return
		}
		if m.opts.OnEnvelope != nil {
			m.opts.OnEnvelope(remoteID, env)
		}
	})
}

// Send routes an envelope over the direct channel toward remoteID. When the
// link is not established it returns ErrNotEstablished and the caller uses the
// relay instead; sends are never silently dropped.
func (m *Manager) Send(remoteID string, env *protocol.Envelope) error {
	m.mu.Lock()
	l, ok := m.links[remoteID]
	if !ok || l.state != StateEstablished || l.dc == nil {
		m.mu.Unlock()
		return ErrNotEstablished
	}
	dc := l.dc
	m.mu.Unlock()

	data, err := env.EncodeDirect()
	if err != nil {
		return err
	}
	return dc.Send(data)
}

// armTimerLocked bounds the negotiation. Caller holds m.mu.
func (m *Manager) armTimerLocked(l *Link) {
	remoteID := l.remoteID
	epoch := l.epoch
	l.negotiationTimer = time.AfterFunc(m.opts.NegotiationTimeout, func() {
		m.logger.Warn().Str("remote_id", remoteID).Dur("timeout", m.opts.NegotiationTimeout).Msg("Peer link negotiation timed out.")
		m.fail(remoteID, epoch)
	})
}

// fail transitions a link to failed. Sends fall back to the relay permanently
// for this pair until a fresh Dial succeeds.
func (m *Manager) fail(remoteID string, epoch uint64) {
	m.transition(remoteID, epoch, StateFailed)
}

// close transitions a link to closed after transport-level closure.
func (m *Manager) close(remoteID string, epoch uint64) {
	m.transition(remoteID, epoch, StateClosed)
}

func (m *Manager) transition(remoteID string, epoch uint64, to State) {
	m.mu.Lock()
	l, ok := m.links[remoteID]
	if !ok || l.epoch != epoch || l.state == StateClosed || l.state == StateFailed {
		m.mu.Unlock()
		return
	}
	m.teardownLocked(l)
	l.state = to
	m.mu.Unlock()

	m.notify(remoteID, to)
}

// teardownLocked releases the link's transport resources. Caller holds m.mu.
func (m *Manager) teardownLocked(l *Link) {
	l.stopTimer()
	if l.pc != nil {
		l.pc.Close()
	}
	l.dc = nil
}

// Close tears down the link toward remoteID, e.g. on explicit disconnect.
func (m *Manager) Close(remoteID string) {
	m.mu.Lock()
	l, ok := m.links[remoteID]
	if !ok {
		m.mu.Unlock()
		return
	}
	epoch := l.epoch
	m.mu.Unlock()

	m.close(remoteID, epoch)
}

// Shutdown tears down every link.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	remotes := make([]string, 0, len(m.links))
	epochs := make([]uint64, 0, len(m.links))
	for id, l := range m.links {
		remotes = append(remotes, id)
		epochs = append(epochs, l.epoch)
	}
	m.mu.Unlock()

	for i, id := range remotes {
		m.close(id, epochs[i])
	}
}

func (m *Manager) notify(remoteID string, state State) {
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(remoteID, state)
	}
}
