package common

import (
	"github.com/erigontech/erigon-lib/rlp"
)

// EncodeRLP and DecodeRLP are thin re-exports of erigon-lib's rlp codec, kept
// here so every package in this module shares one import and one error type
// for RLP failures (accounts, receipts, transactions, node child records).
func EncodeRLP(val interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(val)
}

func DecodeRLP(data []byte, val interface{}) error {
	return rlp.DecodeBytes(data, val)
}
