package triedb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/common"
)

func TestKeysStartWithFinalizedAndDomainPrefix(t *testing.T) {
	var addr common.Address
	addr[0] = 0xaa

	k := AccountKey(addr)
	require.Equal(t, byte(finalizedPrefix), k[0])
	require.Equal(t, byte(DomainState), k[1])
	require.Len(t, k, 2+64)
}

func TestAccountKeyFromHashMatchesAccountKey(t *testing.T) {
	var addr common.Address
	addr[5] = 0x42

	direct := AccountKey(addr)
	fromHash := AccountKeyFromHash(common.Keccak256(addr.Bytes()))
	require.True(t, direct.Equal(fromHash))
}

func TestStorageKeyFromHashMatchesStorageKey(t *testing.T) {
	var addr common.Address
	addr[0] = 0x01
	var slot common.Hash
	slot[31] = 0x02

	direct := StorageKey(addr, 3, slot)
	fromHash := StorageKeyFromHash(common.Keccak256(addr.Bytes()), 3, common.Keccak256(slot.Bytes()))
	require.True(t, direct.Equal(fromHash))
}

func TestStorageKeyDiffersAcrossIncarnations(t *testing.T) {
	var addr common.Address
	addr[0] = 0x01
	var slot common.Hash
	slot[31] = 0x02

	k0 := StorageKey(addr, 0, slot)
	k1 := StorageKey(addr, 1, slot)
	require.False(t, k0.Equal(k1), "same slot under different incarnations must not alias")
}

func TestCallFramePrefixIsPrefixOfCallFrameKey(t *testing.T) {
	prefix := CallFramePrefix(3)
	key := CallFrameKey(3, 7)
	require.True(t, key[:len(prefix)].Equal(prefix))
}

func TestDomainsAreDistinct(t *testing.T) {
	seen := map[Domain]bool{}
	for _, d := range []Domain{DomainState, DomainCode, DomainReceipt, DomainTransaction, DomainTxHash, DomainCallFrame} {
		require.False(t, seen[d], "domain %v reused", d)
		seen[d] = true
	}
}
