package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVenueID_Valid(t *testing.T) {
	assert.True(t, VenueUniswapV3.Valid())
	assert.True(t, VenueCamelotV3.Valid())
	assert.False(t, VenueID("balancer").Valid())
	assert.False(t, VenueID("").Valid())
}

func TestRegistry_EnabledKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(&Venue{ID: VenueSushiV2})
	r.Register(&Venue{ID: VenueUniswapV3})

	got := r.Enabled([]VenueID{VenueUniswapV3, VenueCamelotV2, VenueSushiV2})
	if assert.Len(t, got, 2) {
		assert.Equal(t, VenueUniswapV3, got[0].ID)
		assert.Equal(t, VenueSushiV2, got[1].ID)
	}
	assert.Nil(t, r.Get(VenueCamelotV2))
}
