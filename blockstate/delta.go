package blockstate

import "github.com/chainforge/execd/common"

// StorageStatus classifies a single set_storage call the way EVMC does,
// mirroring EIP-1283/3529.
type StorageStatus int

const (
	StorageUnchanged StorageStatus = iota
	StorageAdded
	StorageDeleted
	StorageModified
	StorageDeletedAdded
	StorageModifiedDeleted
	StorageAddedDeleted
	StorageModifiedRestored
)

// classifyStorageStatus derives the EVMC-style status from an entry's
// original (block-start), previous (pre-call), and new values.
func classifyStorageStatus(original, previous, next common.Hash) StorageStatus {
	zero := common.Hash{}
	if previous == next {
		return StorageUnchanged
	}
	if original == previous {
		switch {
		case previous == zero:
			return StorageAdded
		case next == zero:
			return StorageDeleted
		default:
			return StorageModified
		}
	}
	switch {
	case original == zero:
		return StorageAddedDeleted
	case next == original:
		return StorageModifiedRestored
	case previous == zero:
		return StorageDeletedAdded
	case next == zero:
		return StorageModifiedDeleted
	default:
		return StorageModified
	}
}

// StorageDelta records one storage slot's final value for an address within
// a committed StateDelta. A zero Value represents deletion.
type StorageDelta struct {
	Slot  common.Hash
	Value common.Hash
}

// StateDelta is the per-address outcome of a committed block, the unit
// TrieDb.Commit turns into MPT updates.
type StateDelta struct {
	Address     common.Address
	Account     *Account // nil if the account no longer exists after this block
	Incarnation uint64
	Code        []byte // non-nil only when code changed this block
	CodeHash    common.Hash
	Storage     []StorageDelta
	Deleted     bool
}
