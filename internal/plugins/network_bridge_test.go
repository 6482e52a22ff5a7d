package plugins

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// NetworkBridgePlugin's GetState/Diff/Apply require a live OVSDB socket
// and are not unit-tested; desiredBridges is the pure set-difference
// this plugin is built around, and is unit-tested directly here.

func TestDesiredBridgesComputesCreateAndDeleteSets(t *testing.T) {
	toCreate, toDelete := desiredBridges([]string{"br0", "br1"}, []string{"br1", "br2"})
	require.Equal(t, []string{"br2"}, toCreate)
	require.Equal(t, []string{"br0"}, toDelete)
}

func TestDesiredBridgesNoChanges(t *testing.T) {
	toCreate, toDelete := desiredBridges([]string{"br0"}, []string{"br0"})
	require.Empty(t, toCreate)
	require.Empty(t, toDelete)
}
