package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndList(t *testing.T) {
	s := openTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, s.Append(Record{
		ChatID: "room1", MessageID: "m1", SenderID: "alice", Kind: "chat", Body: "first", CreatedAt: base,
	}))
	require.NoError(t, s.Append(Record{
		ChatID: "room1", MessageID: "m2", SenderID: "bob", Kind: "chat", Body: "second", CreatedAt: base.Add(time.Second),
	}))

	recs, err := s.List("room1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "first", recs[0].Body)
	require.Equal(t, "second", recs[1].Body)
}

func TestAppendIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	rec := Record{
		ChatID: "room1", MessageID: "m1", SenderID: "alice", Kind: "chat", Body: "hello", CreatedAt: time.Now(),
	}

	require.NoError(t, s.Append(rec))
	require.NoError(t, s.Append(rec))

	recs, err := s.List("room1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestListIsScopedToChat(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.Append(Record{ChatID: "room1", MessageID: "m1", SenderID: "a", Kind: "chat", Body: "x", CreatedAt: now}))
	require.NoError(t, s.Append(Record{ChatID: "peer-bob", MessageID: "m1", SenderID: "b", Kind: "chat", Body: "y", CreatedAt: now}))

	recs, err := s.List("peer-bob", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "y", recs[0].Body)
}

func TestListLimitKeepsNewest(t *testing.T) {
	s := openTestStore(t)
	base := time.UnixMilli(1_700_000_000_000)

	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.Append(Record{
			ChatID: "room1", MessageID: id, SenderID: "a", Kind: "chat", Body: id,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	recs, err := s.List("room1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "m2", recs[0].Body)
	require.Equal(t, "m3", recs[1].Body)
}
