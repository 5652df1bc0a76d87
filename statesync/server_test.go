package statesync

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/blockstate"
	"github.com/chainforge/execd/chunkpool"
	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/ioengine"
	"github.com/chainforge/execd/mpt"
	"github.com/chainforge/execd/triedb"
)

func newTestDB(t *testing.T) *triedb.TrieDb {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "statesync-test.db")
	const chunkCapacity = 64 * 1024
	const deviceCapacity = 64 * chunkCapacity
	pool, err := chunkpool.Open([]string{path}, chunkpool.Truncate, chunkCapacity, deviceCapacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	bufs := ioengine.NewBufferPool(chunkpool.PageSize, 8)
	exec := ioengine.NewExecutor(pool, bufs)
	t.Cleanup(exec.Shutdown)

	engine := mpt.NewEngine(pool, exec, mpt.NewNodeCache(256))
	return triedb.New(engine)
}

func TestStreamEmitsAccountsWithStorageInAscendingOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var addrA, addrB common.Address
	addrA[19] = 0x01
	addrB[19] = 0x02

	v, err := db.Commit(ctx, triedb.CommitInput{
		BlockNumber: 1,
		BlockID:     common.Keccak256([]byte("b1")),
		Deltas: []blockstate.StateDelta{
			{
				Address: addrA,
				Account: &blockstate.Account{Nonce: 1, Balance: uint256.NewInt(5), CodeHash: common.EmptyCodeHash},
				Storage: []blockstate.StorageDelta{
					{Slot: common.Keccak256([]byte("slotA")), Value: common.Keccak256([]byte("valueA"))},
				},
			},
			{
				Address: addrB,
				Account: &blockstate.Account{Nonce: 2, Balance: uint256.NewInt(9), CodeHash: common.EmptyCodeHash},
			},
		},
	})
	require.NoError(t, err)

	server := NewServer(db.WithCursor(v))

	var records []AccountRecord
	require.NoError(t, server.Stream(ctx, func(r AccountRecord) error {
		records = append(records, r)
		return nil
	}))

	require.Len(t, records, 2)
	require.True(t, bytes.Compare(records[0].AddressHash[:], records[1].AddressHash[:]) < 0)
	hashA := common.Keccak256(addrA.Bytes())
	hashB := common.Keccak256(addrB.Bytes())

	byHash := map[common.Hash]AccountRecord{}
	for _, r := range records {
		byHash[r.AddressHash] = r
	}

	recA, ok := byHash[hashA]
	require.True(t, ok)
	require.Equal(t, uint64(1), recA.Account.Nonce)
	require.Len(t, recA.Storage, 1)
	// The STATE key holds keccak(slot), so that is what the stream emits.
	require.Equal(t, common.Keccak256(common.Keccak256([]byte("slotA")).Bytes()), recA.Storage[0].Slot)
	require.Equal(t, common.Keccak256([]byte("valueA")), recA.Storage[0].Value)

	recB, ok := byHash[hashB]
	require.True(t, ok)
	require.Equal(t, uint64(2), recB.Account.Nonce)
	require.Empty(t, recB.Storage)
}

func TestStreamOnEmptyTrieEmitsNothing(t *testing.T) {
	db := newTestDB(t)
	server := NewServer(db)

	var calls int
	require.NoError(t, server.Stream(context.Background(), func(AccountRecord) error {
		calls++
		return nil
	}))
	require.Zero(t, calls)
}
