package history

import (
	"testing"

	"github.com/samyycX/orwell/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestInsertAndFetchHistoryOrderedNewestFirst(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.InsertMessage(Row{UniqueID: "u1", MsgID: "m1", MsgType: wire.Text, SenderID: "alice", ReceiverID: "bob", Data: []byte("a"), Timestamp: 1}))
	require.NoError(t, store.InsertMessage(Row{UniqueID: "u2", MsgID: "m1", MsgType: wire.Text, SenderID: "alice", ReceiverID: "bob", Data: []byte("b"), Timestamp: 2}))
	require.NoError(t, store.InsertMessage(Row{UniqueID: "u3", MsgID: "m1", MsgType: wire.Text, SenderID: "alice", ReceiverID: "carol", Data: []byte("c"), Timestamp: 3}))

	rows, err := store.FetchHistory("bob", 50)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, []byte("b"), rows[0].Data)
	require.Equal(t, []byte("a"), rows[1].Data)
}

func TestFetchHistoryRespectsLimit(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.InsertMessage(Row{
			UniqueID: string(rune('a' + i)), MsgID: "m", MsgType: wire.Text,
			SenderID: "alice", ReceiverID: "bob", Data: []byte{byte(i)}, Timestamp: int64(i),
		}))
	}

	rows, err := store.FetchHistory("bob", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestUpsertIdentityRefreshesOnlineTime(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.UpsertIdentity("id1", "alice", []byte("kem"), []byte("sig"), 5))
	var first int64
	require.NoError(t, store.db.QueryRow(`SELECT online_time_ FROM clients_ WHERE id_ = ?`, "id1").Scan(&first))

	require.NoError(t, store.UpsertIdentity("id1", "alice", []byte("kem"), []byte("sig"), 6))
	var second, colour int64
	require.NoError(t, store.db.QueryRow(`SELECT online_time_, color_ FROM clients_ WHERE id_ = ?`, "id1").Scan(&second, &colour))
	require.GreaterOrEqual(t, second, first)
	require.Equal(t, int64(6), colour)
}
