package triedb

import (
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
)

func newTestDB(t *testing.T) *TrieDb {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "commit-test.db")
	const chunkCapacity = 64 * 1024
	const deviceCapacity = 64 * chunkCapacity
	pool, err := chunkpool.Open([]string{path}, chunkpool.Truncate, chunkCapacity, deviceCapacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	bufs := ioengine.NewBufferPool(chunkpool.PageSize, 8)
	exec := ioengine.NewExecutor(pool, bufs)
	t.Cleanup(exec.Shutdown)

	engine := mpt.NewEngine(pool, exec, mpt.NewNodeCache(256))
	return New(engine)
}

func TestCommitWritesAccountCodeAndReceipts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var addr common.Address
	addr[19] = 0x01
	codeHash := common.Keccak256([]byte("runtime"))

	in := CommitInput{
		BlockNumber: 1,
		BlockID:     common.Keccak256([]byte("block1")),
		Deltas: []blockstate.StateDelta{
			{
				Address: addr,
				Account: &blockstate.Account{
					Nonce:    1,
					Balance:  uint256.NewInt(10),
					CodeHash: codeHash,
				},
				Code:     []byte{0x60, 0x00},
				CodeHash: codeHash,
				Storage: []blockstate.StorageDelta{
					{Slot: common.Keccak256([]byte("slot")), Value: common.Keccak256([]byte("value"))},
				},
			},
		},
		Receipts:     [][]byte{[]byte("receipt-0")},
		Transactions: [][]byte{[]byte("tx-0")},
		TxHashes:     []common.Hash{common.Keccak256([]byte("tx-0"))},
	}

	v, err := db.Commit(ctx, in)
	require.NoError(t, err)
	require.Equal(t, uint64(1), v.Number)
	require.Equal(t, v, db.Cursor())

	acc, found, err := db.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(1), acc.Nonce)
	require.True(t, acc.Balance.Eq(uint256.NewInt(10)))

	slot := common.Keccak256([]byte("slot"))
	got, err := db.GetStorage(ctx, addr, 0, slot)
	require.NoError(t, err)
	require.Equal(t, common.Keccak256([]byte("value")), got)

	code, err := db.GetCode(ctx, codeHash)
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x00}, code)

	receipt, found, err := db.GetReceipt(ctx, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("receipt-0"), receipt)

	loc, found, err := db.GetTxLocation(ctx, common.Keccak256([]byte("tx-0")))
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, loc)
}

func TestCommitDeleteRemovesAccount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var addr common.Address
	addr[19] = 0x02

	_, err := db.Commit(ctx, CommitInput{
		BlockNumber: 1,
		BlockID:     common.Keccak256([]byte("b1")),
		Deltas: []blockstate.StateDelta{
			{Address: addr, Account: &blockstate.Account{Balance: uint256.NewInt(1)}},
		},
	})
	require.NoError(t, err)

	_, err = db.Commit(ctx, CommitInput{
		BlockNumber: 2,
		BlockID:     common.Keccak256([]byte("b2")),
		Deltas:      []blockstate.StateDelta{{Address: addr, Deleted: true}},
	})
	require.NoError(t, err)

	_, found, err := db.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.False(t, found)
}

func TestWithCursorDoesNotMutateOriginal(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var addr common.Address
	addr[19] = 0x03
	v, err := db.Commit(ctx, CommitInput{
		BlockNumber: 1,
		BlockID:     common.Keccak256([]byte("b1")),
		Deltas: []blockstate.StateDelta{
			{Address: addr, Account: &blockstate.Account{Balance: uint256.NewInt(1)}},
		},
	})
	require.NoError(t, err)

	genesis := New(db.engine)
	snap := genesis.WithCursor(v)
	_, found, err := snap.GetAccount(ctx, addr)
	require.NoError(t, err)
	require.True(t, found)

	require.True(t, genesis.Cursor().Root.IsZero(), "original façade's cursor must be untouched")
}
