package dbbadger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrowd/internal/core/ports"
)

func newTestRepoManager(t *testing.T) ports.RepoManager {
	t.Helper()

	manager, err := NewRepoManager(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(manager.Close)
	return manager
}
