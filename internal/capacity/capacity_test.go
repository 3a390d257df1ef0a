package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverrideWinsOverMeta(t *testing.T) {
	s := New(Options{
		Meta: []MetaRecord{
			{LineCode: "M2", ExpectedCapacity: 900, Confidence: "high"},
			{LineCode: "500T", ExpectedCapacity: 150, Confidence: "medium"},
		},
		RailOverride: map[string]int{"M2": 1300},
	})

	v, ok := s.VehicleCapacity("M2")
	require.True(t, ok)
	assert.Equal(t, 1300, v)

	info, ok := s.Lookup("M2")
	require.True(t, ok)
	assert.Equal(t, SourceOverride, info.Source)

	v, ok = s.VehicleCapacity("500T")
	require.True(t, ok)
	assert.Equal(t, 150, v)
}

func TestUnknownLine(t *testing.T) {
	s := New(Options{})
	_, ok := s.VehicleCapacity("ghost")
	assert.False(t, ok)
	assert.Zero(t, s.Len())
}

func TestMinMaxCarriedThrough(t *testing.T) {
	lo, hi := int64(90), int64(180)
	s := New(Options{Meta: []MetaRecord{{
		LineCode:         "34AS",
		ExpectedCapacity: 120,
		CapacityMin:      &lo,
		CapacityMax:      &hi,
	}}})

	info, ok := s.Lookup("34AS")
	require.True(t, ok)
	require.NotNil(t, info.CapacityMin)
	require.NotNil(t, info.CapacityMax)
	assert.Equal(t, 90, *info.CapacityMin)
	assert.Equal(t, 180, *info.CapacityMax)
}
