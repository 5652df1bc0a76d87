package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNibblesRoundTrip(t *testing.T) {
	key := []byte{0xab, 0xcd, 0xef}
	n := NibblesFromBytes(key)
	require.Equal(t, Nibbles{0xa, 0xb, 0xc, 0xd, 0xe, 0xf}, n)
	require.Equal(t, key, n.Bytes())
}

func TestCommonPrefixLen(t *testing.T) {
	a := Nibbles{1, 2, 3, 4}
	b := Nibbles{1, 2, 9, 4}
	require.Equal(t, 2, CommonPrefixLen(a, b))
	require.Equal(t, 4, CommonPrefixLen(a, a))
	require.Equal(t, 0, CommonPrefixLen(Nibbles{9}, a))
}

func TestConcatAndEqual(t *testing.T) {
	a := Nibbles{1, 2}
	b := Nibbles{3, 4}
	c := Concat(a, b)
	require.True(t, c.Equal(Nibbles{1, 2, 3, 4}))
	require.False(t, a.Equal(b))
}

func TestBytesPanicsOnOddLength(t *testing.T) {
	require.Panics(t, func() {
		Nibbles{1, 2, 3}.Bytes()
	})
}

func TestCloneIsIndependent(t *testing.T) {
	a := Nibbles{1, 2, 3}
	b := a.Clone()
	b[0] = 9
	require.Equal(t, byte(1), a[0])
}
