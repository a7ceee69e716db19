package dialect

import (
	"testing"

	"github.com/strefethen/devicehub/internal/device"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	return reg
}

func TestRegistry_For_ReturnsWiimDialect(t *testing.T) {
	reg := newTestRegistry(t)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)
	require.Equal(t, device.VendorWiiM, d.Vendor())
}

func TestRegistry_For_UnknownVendorFallsBackToGenericLinkPlay(t *testing.T) {
	reg := newTestRegistry(t)
	d, err := reg.For(device.Vendor("someUnlistedOem"))
	require.NoError(t, err)
	require.NotNil(t, d)
}

func TestDialect_Build_SubstitutesIntegerArg(t *testing.T) {
	reg := newTestRegistry(t)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)

	cmd, err := d.Build(OpSetVolume, 42)
	require.NoError(t, err)
	require.Equal(t, "setPlayerCmd:vol:42", cmd.Verb)
	require.False(t, cmd.HasReply)
}

func TestDialect_Build_NoArgsOperation(t *testing.T) {
	reg := newTestRegistry(t)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)

	cmd, err := d.Build(OpGetStatus)
	require.NoError(t, err)
	require.Equal(t, "getStatusEx", cmd.Verb)
	require.True(t, cmd.HasReply)
}

func TestDialect_Build_UnknownOperationErrors(t *testing.T) {
	reg := newTestRegistry(t)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)

	_, err = d.Build(Operation("NotARealOp"))
	require.Error(t, err)
}

func TestDialect_RequiredCapability_ReturnsGateForMetadata(t *testing.T) {
	reg := newTestRegistry(t)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)

	require.Equal(t, device.CapMetadataEndpoint, d.RequiredCapability(OpGetMetadata))
	require.Equal(t, device.CapabilityFlag(""), d.RequiredCapability(OpPlay))
}

func TestDialect_DecodeLoopMode_WiimVsGenericDiffer(t *testing.T) {
	reg := newTestRegistry(t)

	wiim, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)
	shuffle, repeat := wiim.DecodeLoopMode(1)
	require.Equal(t, device.ShuffleOff, shuffle)
	require.Equal(t, device.RepeatOne, repeat)

	generic, err := reg.For(device.VendorGenericLinkPlay)
	require.NoError(t, err)
	shuffle, repeat = generic.DecodeLoopMode(1)
	require.Equal(t, device.ShuffleOff, shuffle)
	require.Equal(t, device.RepeatAll, repeat)
}

func TestDialect_DecodeLoopMode_UnknownIntegerIsUnknown(t *testing.T) {
	reg := newTestRegistry(t)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)

	shuffle, repeat := d.DecodeLoopMode(99)
	require.Equal(t, device.ShuffleUnknown, shuffle)
	require.Equal(t, device.RepeatUnknown, repeat)
}

func TestDialect_EncodeLoopMode_WiimDuplicateResolvesToLowestInt(t *testing.T) {
	reg := newTestRegistry(t)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)

	n, err := d.EncodeLoopMode(true, device.RepeatOff)
	require.NoError(t, err)
	require.Equal(t, 3, n) // wiim has mode 3 AND 4 both (shuffle=true, repeat=off)
}

func TestDialect_EncodeLoopMode_NoMatchErrors(t *testing.T) {
	reg := newTestRegistry(t)
	d, err := reg.For(device.VendorWiiM)
	require.NoError(t, err)

	_, err = d.EncodeLoopMode(false, device.RepeatMode("bogus"))
	require.Error(t, err)
}
