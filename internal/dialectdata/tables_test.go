package dialectdata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_ParsesAllVendors(t *testing.T) {
	tables, err := Load()
	require.NoError(t, err)
	require.Contains(t, tables, "wiim")
	require.Contains(t, tables, "genericLinkPlay")
	require.Contains(t, tables, "arylic")
	require.Contains(t, tables, "audioPro")
}

func TestLoad_WiimSharesOperationsWithGenericLinkPlayViaAnchor(t *testing.T) {
	tables, err := Load()
	require.NoError(t, err)
	require.Equal(t, len(tables["wiim"].Operations), len(tables["genericLinkPlay"].Operations))
}

func TestLoad_VendorsHaveDistinctLoopModeTables(t *testing.T) {
	tables, err := Load()
	require.NoError(t, err)
	require.NotEqual(t, tables["wiim"].LoopModes, tables["genericLinkPlay"].LoopModes)
}

func TestLoad_SetVolumeHasIntegerPlaceholder(t *testing.T) {
	tables, err := Load()
	require.NoError(t, err)
	for _, op := range tables["wiim"].Operations {
		if op.Operation == "SetVolume" {
			require.Equal(t, "setPlayerCmd:vol:%d", op.Command)
			require.False(t, op.HasReply)
			return
		}
	}
	t.Fatal("SetVolume operation not found")
}
