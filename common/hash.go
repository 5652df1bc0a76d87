// Package common holds the small, dependency-light primitives shared by
// every layer of the MPT-DB and block-state stack: hashing, nibble-path
// manipulation, and the RLP codec used for node child records, accounts,
// receipts and transactions.
package common

import (
	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte Keccak-256 digest, used both as a subtree hash cached on
// every node and as the state/receipts root committed per version.
type Hash [32]byte

// Address is a 20-byte account address.
type Address [20]byte

// Keccak256 hashes the concatenation of data using the canonical Ethereum
// hash function, Keccak-256.
func Keccak256(data ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out Hash
	h.Sum(out[:0])
	return out
}

// HashData is a convenience wrapper for hashing a single byte slice, used
// when hashing account addresses and storage keys into trie paths.
func HashData(data []byte) Hash {
	return Keccak256(data)
}

func (h Hash) Bytes() []byte { return h[:] }

func (a Address) Bytes() []byte { return a[:] }

// EmptyCodeHash is keccak256(nil), the code hash of an account with no code.
var EmptyCodeHash = Keccak256(nil)
