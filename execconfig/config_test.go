package execconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRequiresChainAndBlockDB(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.Chain = ChainEthereumMainnet
	require.Error(t, cfg.Validate(), "still missing block_db")

	cfg.BlockDB = "/tmp/blocks"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownChain(t *testing.T) {
	cfg := Default()
	cfg.Chain = Chain("not_a_real_chain")
	cfg.BlockDB = "/tmp/blocks"
	require.Error(t, cfg.Validate())
}

func TestDBPathList(t *testing.T) {
	require.Nil(t, DBPathList(""))
	require.Equal(t, []string{"a", "b"}, DBPathList("a,b"))
	require.Equal(t, []string{"a", "b"}, DBPathList(" a , b "))
}

func TestInMemoryWhenNoDBPaths(t *testing.T) {
	cfg := Default()
	require.True(t, cfg.InMemory())
	cfg.DBPaths = []string{"/tmp/a"}
	require.False(t, cfg.InMemory())
}
