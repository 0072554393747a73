package peer

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"peerchat/internal/protocol"
)

type fakeSignaler struct {
	mu         sync.Mutex
	offers     []string
	answers    []string
	candidates []string
}

func (f *fakeSignaler) SendOffer(target string, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, target)
	return nil
}

func (f *fakeSignaler) SendAnswer(target string, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, target)
	return nil
}

func (f *fakeSignaler) SendCandidate(target string, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, target)
	return nil
}

func (f *fakeSignaler) counts() (offers, answers int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offers), len(f.answers)
}

// remoteOffer builds a real offer the way another endpoint would.
func remoteOffer(t *testing.T) json.RawMessage {
	t.Helper()

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	_, err = pc.CreateDataChannel("messages", nil)
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))

	raw, err := json.Marshal(pc.LocalDescription())
	require.NoError(t, err)
	return raw
}

func TestSendWithoutLinkFallsBack(t *testing.T) {
	m := NewManager("aaa", &fakeSignaler{}, Options{})

	env := &protocol.Envelope{
		Kind:     protocol.KindTyping,
		SenderID: "aaa",
		Target:   "bbb",
		Typing:   &protocol.TypingPayload{IsTyping: true},
	}
	require.ErrorIs(t, m.Send("bbb", env), ErrNotEstablished)
	require.Equal(t, StateAbsent, m.State("bbb"))
}

func TestDialStartsNegotiation(t *testing.T) {
	sig := &fakeSignaler{}
	m := NewManager("aaa", sig, Options{})
	defer m.Shutdown()

	require.NoError(t, m.Dial("bbb"))
	require.Equal(t, StateNegotiating, m.State("bbb"))

	offers, _ := sig.counts()
	require.Equal(t, 1, offers)

	// Dialing again while negotiating is a no-op.
	require.NoError(t, m.Dial("bbb"))
	offers, _ = sig.counts()
	require.Equal(t, 1, offers)
}

func TestMutualOfferLowerIDWins(t *testing.T) {
	// The local id sorts before the remote id, so the local offer wins and
	// the incoming one is ignored.
	sig := &fakeSignaler{}
	m := NewManager("aaa", sig, Options{})
	defer m.Shutdown()

	require.NoError(t, m.Dial("bbb"))
	require.NoError(t, m.HandleOffer("bbb", remoteOffer(t)))

	offers, answers := sig.counts()
	require.Equal(t, 1, offers)
	require.Equal(t, 0, answers)
	require.Equal(t, StateNegotiating, m.State("bbb"))
}

func TestMutualOfferHigherIDYields(t *testing.T) {
	// The local id sorts after the remote id, so the local offer is rolled
	// back and the incoming one is answered.
	sig := &fakeSignaler{}
	m := NewManager("zzz", sig, Options{})
	defer m.Shutdown()

	require.NoError(t, m.Dial("bbb"))
	require.NoError(t, m.HandleOffer("bbb", remoteOffer(t)))

	_, answers := sig.counts()
	require.Equal(t, 1, answers)
	require.Equal(t, StateNegotiating, m.State("bbb"))
}

func TestInboundOfferIsAnswered(t *testing.T) {
	sig := &fakeSignaler{}
	m := NewManager("aaa", sig, Options{})
	defer m.Shutdown()

	require.NoError(t, m.HandleOffer("ccc", remoteOffer(t)))

	offers, answers := sig.counts()
	require.Equal(t, 0, offers)
	require.Equal(t, 1, answers)
	require.Equal(t, StateNegotiating, m.State("ccc"))
}

func TestAnswerWithoutOfferIsDropped(t *testing.T) {
	m := NewManager("aaa", &fakeSignaler{}, Options{})

	require.NoError(t, m.HandleAnswer("bbb", json.RawMessage(`{"type":"answer","sdp":""}`)))
	require.Equal(t, StateAbsent, m.State("bbb"))
}

func TestCandidatesBufferUntilRemoteDescription(t *testing.T) {
	sig := &fakeSignaler{}
	m := NewManager("aaa", sig, Options{})
	defer m.Shutdown()

	require.NoError(t, m.Dial("bbb"))

	// No remote description yet; the candidate must be buffered, not applied.
	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host"}`)
	require.NoError(t, m.HandleCandidate("bbb", cand))

	m.mu.Lock()
	pending := len(m.links["bbb"].pendingCandidates)
	m.mu.Unlock()
	require.Equal(t, 1, pending)
}

func TestNegotiationTimeoutFailsLink(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)
	sig := &fakeSignaler{}
	m := NewManager("aaa", sig, Options{
		NegotiationTimeout: 20 * time.Millisecond,
		OnStateChange: func(_ string, s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	})

	require.NoError(t, m.Dial("bbb"))

	require.Eventually(t, func() bool {
		return m.State("bbb") == StateFailed
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateNegotiating, StateFailed}, states)

	// A failed link falls back to the relay.
	env := &protocol.Envelope{
		Kind:     protocol.KindTyping,
		SenderID: "aaa",
		Target:   "bbb",
		Typing:   &protocol.TypingPayload{IsTyping: false},
	}
	require.ErrorIs(t, m.Send("bbb", env), ErrNotEstablished)
}

func TestCloseUnknownPeerIsNoop(t *testing.T) {
	m := NewManager("aaa", &fakeSignaler{}, Options{})
	m.Close("bbb")
	require.Equal(t, StateAbsent, m.State("bbb"))
}
