package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"peerchat/internal/pkg/errs"
)

func TestCreatePublicRoom(t *testing.T) {
	r := NewRegistry()

	roomID, cerr := r.Create("alice", "general", false, "")
	require.Nil(t, cerr)
	require.NotEmpty(t, roomID)
	require.Equal(t, []string{"alice"}, r.Members(roomID))

	info, ok := r.Snapshot(roomID, nil)
	require.True(t, ok)
	require.Equal(t, "alice", info.LeadUserID)
	require.False(t, info.IsPrivate)
}

func TestCreateRejectsEmptyName(t *testing.T) {
	r := NewRegistry()

	_, cerr := r.Create("alice", "   ", false, "")
	require.NotNil(t, cerr)
	require.Equal(t, errs.ErrValidation, cerr.Code)
}

func TestCreateRejectsMalformedPin(t *testing.T) {
	r := NewRegistry()

	for _, pin := range []string{"", "123", "123456789", "12ab"} {
		_, cerr := r.Create("alice", "secret", true, pin)
		require.NotNil(t, cerr, "pin %q should be rejected", pin)
		require.Equal(t, errs.ErrValidation, cerr.Code)
	}
}

func TestJoinChecksPin(t *testing.T) {
	r := NewRegistry()
	roomID, cerr := r.Create("alice", "secret", true, "4821")
	require.Nil(t, cerr)

	cerr = r.Join("bob", roomID, "0000")
	require.NotNil(t, cerr)
	require.Equal(t, errs.ErrUnauthorized, cerr.Code)
	require.Equal(t, []string{"alice"}, r.Members(roomID))

	cerr = r.Join("bob", roomID, "4821")
	require.Nil(t, cerr)
	require.Equal(t, []string{"alice", "bob"}, r.Members(roomID))
}

func TestJoinUnknownRoom(t *testing.T) {
	r := NewRegistry()

	cerr := r.Join("bob", "nope", "")
	require.NotNil(t, cerr)
	require.Equal(t, errs.ErrRoomNotFound, cerr.Code)
}

func TestJoinIsIdempotentForMembers(t *testing.T) {
	r := NewRegistry()
	roomID, _ := r.Create("alice", "general", false, "")

	require.Nil(t, r.Join("alice", roomID, ""))
	require.Equal(t, []string{"alice"}, r.Members(roomID))
}

func TestJoinByPin(t *testing.T) {
	r := NewRegistry()
	_, cerr := r.Create("alice", "open", false, "")
	require.Nil(t, cerr)
	privateID, cerr := r.Create("alice", "secret", true, "4821")
	require.Nil(t, cerr)

	roomID, cerr := r.JoinByPin("bob", "4821")
	require.Nil(t, cerr)
	require.Equal(t, privateID, roomID)

	_, cerr = r.JoinByPin("carol", "9999")
	require.NotNil(t, cerr)
	require.Equal(t, errs.ErrRoomNotFound, cerr.Code)
}

func TestKickRequiresLead(t *testing.T) {
	r := NewRegistry()
	roomID, _ := r.Create("alice", "general", false, "")
	require.Nil(t, r.Join("bob", roomID, ""))
	require.Nil(t, r.Join("carol", roomID, ""))

	_, cerr := r.Kick("bob", roomID, "carol")
	require.NotNil(t, cerr)
	require.Equal(t, errs.ErrUnauthorized, cerr.Code)

	removed, cerr := r.Kick("alice", roomID, "carol")
	require.Nil(t, cerr)
	require.True(t, removed)
	require.Equal(t, []string{"alice", "bob"}, r.Members(roomID))

	// Kicking someone who already left is a no-op, not an error.
	removed, cerr = r.Kick("alice", roomID, "carol")
	require.Nil(t, cerr)
	require.False(t, removed)
}

func TestLeaveTransfersLeadDeterministically(t *testing.T) {
	r := NewRegistry()
	roomID, _ := r.Create("carol", "general", false, "")
	require.Nil(t, r.Join("alice", roomID, ""))
	require.Nil(t, r.Join("bob", roomID, ""))

	res, cerr := r.Leave("carol", roomID)
	require.Nil(t, cerr)
	require.False(t, res.Destroyed)
	require.Equal(t, "alice", res.NewLeadID)

	info, ok := r.Snapshot(roomID, nil)
	require.True(t, ok)
	require.Equal(t, "alice", info.LeadUserID)
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	r := NewRegistry()
	roomID, _ := r.Create("alice", "general", false, "")

	res, cerr := r.Leave("alice", roomID)
	require.Nil(t, cerr)
	require.True(t, res.Destroyed)

	_, ok := r.Snapshot(roomID, nil)
	require.False(t, ok)
}

func TestRemoveUserSpansRooms(t *testing.T) {
	r := NewRegistry()
	first, _ := r.Create("alice", "one", false, "")
	second, _ := r.Create("bob", "two", false, "")
	require.Nil(t, r.Join("alice", second, ""))

	results := r.RemoveUser("alice")
	require.Len(t, results, 2)

	byRoom := map[string]LeaveResult{}
	for _, res := range results {
		byRoom[res.RoomID] = res
	}
	require.True(t, byRoom[first].Destroyed)
	require.False(t, byRoom[second].Destroyed)
	require.Equal(t, []string{"bob"}, r.Members(second))
}

func TestSnapshotResolvesNames(t *testing.T) {
	r := NewRegistry()
	roomID, _ := r.Create("u2", "general", false, "")
	require.Nil(t, r.Join("u1", roomID, ""))

	names := map[string]string{"u1": "Alice", "u2": "Bob"}
	info, ok := r.Snapshot(roomID, func(id string) (string, bool) {
		n, ok := names[id]
		return n, ok
	})
	require.True(t, ok)
	require.Len(t, info.Members, 2)
	require.Equal(t, "u1", info.Members[0].ID)
	require.Equal(t, "Alice", info.Members[0].Name)
	require.Equal(t, "Bob", info.Members[1].Name)
}
