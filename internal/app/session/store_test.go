package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"peerchat/internal/pkg/errs"
	"peerchat/internal/protocol"
)

type fakeEndpoint struct {
	frames []protocol.Frame
}

func (f *fakeEndpoint) Deliver(frame protocol.Frame) {
	f.frames = append(f.frames, frame)
}

func TestJoinMintsIdentity(t *testing.T) {
	s := NewStore()
	ep := &fakeEndpoint{}

	u, cerr := s.Join("Alice", "", "", ep)
	require.Nil(t, cerr)
	require.NotEmpty(t, u.ID)
	require.Equal(t, "Alice", u.Name)

	got, ok := s.Get(u.ID)
	require.True(t, ok)
	require.Equal(t, u, got)
}

func TestJoinRejectsEmptyName(t *testing.T) {
	s := NewStore()

	_, cerr := s.Join("   ", "", "", &fakeEndpoint{})
	require.NotNil(t, cerr)
	require.Equal(t, errs.ErrValidation, cerr.Code)
}

func TestJoinEscapesName(t *testing.T) {
	s := NewStore()

	u, cerr := s.Join("<b>Mallory</b>", "", "", &fakeEndpoint{})
	require.Nil(t, cerr)
	require.Equal(t, "&lt;b&gt;Mallory&lt;/b&gt;", u.Name)
}

func TestJoinReusesKnownIdentity(t *testing.T) {
	s := NewStore()
	first := &fakeEndpoint{}

	u, cerr := s.Join("Alice", "", "", first)
	require.Nil(t, cerr)

	// Reconnect with the previous id rebinds the endpoint and keeps JoinedAt.
	second := &fakeEndpoint{}
	again, cerr := s.Join("Alice", "", u.ID, second)
	require.Nil(t, cerr)
	require.Equal(t, u.ID, again.ID)
	require.Equal(t, u.JoinedAt, again.JoinedAt)

	ep, ok := s.Endpoint(u.ID)
	require.True(t, ok)
	require.Same(t, second, ep)
}

func TestJoinIgnoresUnknownIdentity(t *testing.T) {
	s := NewStore()

	u, cerr := s.Join("Alice", "", "never-seen", &fakeEndpoint{})
	require.Nil(t, cerr)
	require.NotEqual(t, "never-seen", u.ID)
}

func TestUpdateEnforcesOwnership(t *testing.T) {
	s := NewStore()
	owner := &fakeEndpoint{}
	u, _ := s.Join("Alice", "", "", owner)

	_, ok := s.Update(u.ID, &fakeEndpoint{}, "Eve", "")
	require.False(t, ok)

	name, found := s.Name(u.ID)
	require.True(t, found)
	require.Equal(t, "Alice", name)

	updated, ok := s.Update(u.ID, owner, "Alicia", "")
	require.True(t, ok)
	require.Equal(t, "Alicia", updated.Name)
}

func TestListOrdersByJoinTime(t *testing.T) {
	s := NewStore()

	a, _ := s.Join("Alice", "", "", &fakeEndpoint{})
	b, _ := s.Join("Bob", "", "", &fakeEndpoint{})

	users := s.List()
	require.Len(t, users, 2)
	if users[0].JoinedAt == users[1].JoinedAt {
		// Same-millisecond joins fall back to id order.
		require.Less(t, users[0].ID, users[1].ID)
	} else {
		require.Equal(t, a.ID, users[0].ID)
		require.Equal(t, b.ID, users[1].ID)
	}
}

func TestLeaveForgetsIdentity(t *testing.T) {
	s := NewStore()
	u, _ := s.Join("Alice", "", "", &fakeEndpoint{})

	s.Leave(u.ID)

	_, ok := s.Get(u.ID)
	require.False(t, ok)
	require.Empty(t, s.List())
}
