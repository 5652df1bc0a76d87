package snapshotio

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/blockstate"
	"github.com/chainforge/execd/common"
	"github.com/chainforge/execd/statesync"
)

func TestDumpAndLoadAccountsRoundTrip(t *testing.T) {
	rec := statesync.AccountRecord{
		AddressHash: common.Keccak256([]byte("addr")),
		Account: &blockstate.Account{
			Nonce:    1,
			Balance:  uint256.NewInt(500),
			CodeHash: common.EmptyCodeHash,
		},
		Storage: []blockstate.StorageDelta{
			{Slot: common.Keccak256([]byte("slot1")), Value: common.Keccak256([]byte("value1"))},
		},
	}

	records := make(chan statesync.AccountRecord, 1)
	records <- rec
	close(records)

	var buf bytes.Buffer
	require.NoError(t, DumpAccounts(&buf, records))

	var got []AccountSnapshot
	err := LoadAccounts(&buf, func(a AccountSnapshot) error {
		got = append(got, a)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, rec.AddressHash, got[0].AddressHash)
	require.Equal(t, rec.Account.Nonce, got[0].Account.Nonce)
	require.True(t, rec.Account.Balance.Eq(got[0].Account.Balance))
	require.Len(t, got[0].Storage, 1)
	require.Equal(t, rec.Storage[0].Slot, got[0].Storage[0].Slot)
	require.Equal(t, rec.Storage[0].Value, got[0].Storage[0].Value)
}

func TestDumpAndLoadCodeRoundTrip(t *testing.T) {
	blob := CodeBlob{Hash: common.Keccak256([]byte("runtime")), Code: []byte{0x60, 0x80, 0x60, 0x40}}
	blobs := make(chan CodeBlob, 1)
	blobs <- blob
	close(blobs)

	var buf bytes.Buffer
	require.NoError(t, DumpCode(&buf, blobs))

	var got []CodeBlob
	err := LoadCode(&buf, func(b CodeBlob) error {
		got = append(got, b)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, blob.Hash, got[0].Hash)
	require.Equal(t, blob.Code, got[0].Code)
}
