package blockstate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainforge/execd/common"
)

func h(b byte) common.Hash {
	var out common.Hash
	out[31] = b
	return out
}

var zero = common.Hash{}

func TestClassifyStorageStatus(t *testing.T) {
	cases := []struct {
		name                 string
		original, prev, next common.Hash
		want                 StorageStatus
	}{
		{"unchanged", h(1), h(1), h(1), StorageUnchanged},
		{"added", zero, zero, h(1), StorageAdded},
		{"deleted", h(1), h(1), zero, StorageDeleted},
		{"modified", h(1), h(1), h(2), StorageModified},
		{"added then deleted in same tx", zero, h(1), zero, StorageAddedDeleted},
		{"modified then restored", h(1), h(2), h(1), StorageModifiedRestored},
		{"deleted then re-added", h(1), zero, h(2), StorageDeletedAdded},
		{"modified then deleted", h(1), h(2), zero, StorageModifiedDeleted},
		{"modified twice, net change", h(1), h(2), h(3), StorageModified},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, classifyStorageStatus(c.original, c.prev, c.next))
		})
	}
}
