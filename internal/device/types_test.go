package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatus_Clone_DeepCopiesPresets(t *testing.T) {
	orig := Status{Presets: []Preset{{Number: 1, Name: "BBC Radio 1"}}}
	clone := orig.Clone()

	clone.Presets[0].Name = "mutated"

	require.Equal(t, "BBC Radio 1", orig.Presets[0].Name)
	require.Equal(t, "mutated", clone.Presets[0].Name)
}

func TestStatus_Clone_NilPresetsStaysNil(t *testing.T) {
	clone := Status{}.Clone()
	require.Nil(t, clone.Presets)
}

func TestPartial_HasAndSet(t *testing.T) {
	p := &Partial{}
	require.False(t, p.Has(FieldVolume))

	p.Set(FieldVolume)
	require.True(t, p.Has(FieldVolume))
	require.False(t, p.Has(FieldMuted))

	p.Set(FieldMuted)
	require.True(t, p.Has(FieldVolume))
	require.True(t, p.Has(FieldMuted))
}

func TestPartial_EmbedsStatusFieldsDirectly(t *testing.T) {
	p := Partial{Mask: FieldContentID, Status: Status{ContentID: "track-42"}}
	require.Equal(t, "track-42", p.ContentID)
}

func TestTri_String(t *testing.T) {
	require.Equal(t, "unknown", TriUnknown.String())
	require.Equal(t, "yes", TriYes.String())
	require.Equal(t, "no", TriNo.String())
}
