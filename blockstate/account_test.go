package blockstate

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/common"
)

func TestAccountEncodeDecodeRoundTrip(t *testing.T) {
	a := &Account{
		Nonce:       7,
		Balance:     uint256.NewInt(123456789),
		CodeHash:    common.Keccak256([]byte("code")),
		Incarnation: 3,
	}
	enc, err := a.EncodeRLP()
	require.NoError(t, err)

	got, err := DecodeAccount(enc)
	require.NoError(t, err)
	require.Equal(t, a.Nonce, got.Nonce)
	require.True(t, a.Balance.Eq(got.Balance))
	require.Equal(t, a.CodeHash, got.CodeHash)
	require.Equal(t, a.Incarnation, got.Incarnation)
}

func TestEmptyAccountPredicate(t *testing.T) {
	a := NewAccount()
	require.True(t, a.EmptyAccount())

	a.Nonce = 1
	require.False(t, a.EmptyAccount())
}
