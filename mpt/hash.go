package mpt

import (
	"github.com/chainforge/execd/common"
)

// Hash returns this node's cached subtree hash, computing and caching it if
// necessary: Keccak-256 over the node's RLP-encoded representation. This
// module defines one canonical 18-element list: [path, value, child0
// hash, ..., child15 hash], RLP-encodes it, and hashes the result.
func (n *Node) Hash() common.Hash {
	if n.hash != nil {
		return *n.hash
	}
	items := make([][]byte, 18)
	items[0] = packNibblesPadded(n.Path)
	if n.HasValue() {
		items[1] = n.Value
	} else {
		items[1] = []byte{}
	}
	for i := 0; i < 16; i++ {
		if c := n.Children[i]; c != nil {
			h := c.Hash
			items[2+i] = h[:]
		} else {
			items[2+i] = []byte{}
		}
	}
	encoded, err := common.EncodeRLP(items)
	var h common.Hash
	if err != nil {
		// RLP-encoding a [][]byte cannot fail; if it somehow does, fall back
		// to hashing the raw concatenation rather than panicking mid-upsert.
		h = common.Keccak256(items...)
	} else {
		h = common.Keccak256(encoded)
	}
	n.hash = &h
	return h
}

// EmptyTrieHash is the canonical hash of an absent root ("the root,
// which may be absent (empty trie)").
var EmptyTrieHash = common.Keccak256(nil)
