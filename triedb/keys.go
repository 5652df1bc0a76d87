// Package triedb implements the Versioned DB Façade: it maps
// blockchain-level keys onto MPT keys under a small set of domain prefixes
// and exposes per-version point and range queries on top of mpt.Engine.
package triedb

import (
	"encoding/binary"

	"github.com/chainforge/execd/common"
)

// Domain is the second nibble of every key this package builds.
type Domain byte

const (
	DomainState      Domain = 0x1
	DomainCode       Domain = 0x2
	DomainReceipt    Domain = 0x3
	DomainTransaction Domain = 0x4
	DomainTxHash     Domain = 0x5
	DomainCallFrame  Domain = 0x6
)

// finalizedPrefix is the top nibble every key in this package starts with.
const finalizedPrefix = byte(0x0)

func prefixed(domain Domain, parts ...[]byte) common.Nibbles {
	key := common.Nibbles{finalizedPrefix, byte(domain)}
	for _, p := range parts {
		key = common.Concat(key, common.NibblesFromBytes(p))
	}
	return key
}

func be32(v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return buf[:]
}

func be64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// AccountKey is the MPT key for an account record.
func AccountKey(addr common.Address) common.Nibbles {
	h := common.Keccak256(addr.Bytes())
	return prefixed(DomainState, h.Bytes())
}

// StorageKey is the MPT key for one storage slot of addr under incarnation.
// The incarnation is folded into the key, not just carried alongside the
// account record, so that a destructed-then-recreated account's storage
// never aliases its predecessor's: a fresh incarnation starts under a key
// range no earlier write ever touched, and the old range is simply never
// addressed again rather than requiring an explicit delete of every slot
// the prior incarnation ever wrote.
func StorageKey(addr common.Address, incarnation uint64, slot common.Hash) common.Nibbles {
	ah := common.Keccak256(addr.Bytes())
	sh := common.Keccak256(slot.Bytes())
	return prefixed(DomainState, ah.Bytes(), be64(incarnation), sh.Bytes())
}

// AccountKeyFromHash builds the same key as AccountKey given an
// already-hashed address, for callers that only have the hash (snapshotio's
// genesis bootstrap, which has no address preimage to re-hash).
func AccountKeyFromHash(addressHash common.Hash) common.Nibbles {
	return prefixed(DomainState, addressHash.Bytes())
}

// StorageKeyFromHash builds the same key as StorageKey given an
// already-hashed address and slot.
func StorageKeyFromHash(addressHash common.Hash, incarnation uint64, slotHash common.Hash) common.Nibbles {
	return prefixed(DomainState, addressHash.Bytes(), be64(incarnation), slotHash.Bytes())
}

// CodeKey is the MPT key for a contract's bytecode, addressed by its hash so
// identical code across many accounts shares one trie entry.
func CodeKey(codeHash common.Hash) common.Nibbles {
	return prefixed(DomainCode, codeHash.Bytes())
}

// ReceiptKey is the MPT key for a transaction's encoded receipt.
func ReceiptKey(txIndex uint32) common.Nibbles {
	enc, _ := common.EncodeRLP(txIndex)
	return prefixed(DomainReceipt, enc)
}

// TransactionKey is the MPT key for a transaction's encoded body and sender.
func TransactionKey(txIndex uint32) common.Nibbles {
	enc, _ := common.EncodeRLP(txIndex)
	return prefixed(DomainTransaction, enc)
}

// TxHashKey is the MPT key mapping a transaction hash to its (block_number,
// tx_index) location.
func TxHashKey(txHash common.Hash) common.Nibbles {
	return prefixed(DomainTxHash, txHash.Bytes())
}

// CallFrameKey is the MPT key for one lexicographic chunk of a transaction's
// encoded call frames.
func CallFrameKey(txIndex, chunk uint32) common.Nibbles {
	return prefixed(DomainCallFrame, be32(txIndex), be32(chunk))
}

// CallFramePrefix is the common prefix shared by every chunk of txIndex's
// call frames, the window a RangedGetMachine walks to reassemble them.
func CallFramePrefix(txIndex uint32) common.Nibbles {
	return prefixed(DomainCallFrame, be32(txIndex))
}
