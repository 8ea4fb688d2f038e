package abtest

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/rules"
)

func fiftyFifty() *Test {
	return &Test{
		ID:     1,
		Status: TestActive,
		Variants: []Variant{
			{ID: 10, Name: "control", TrafficPercent: 50, IsControl: true},
			{ID: 11, Name: "variantB", TrafficPercent: 50},
		},
	}
}

func TestSelect_InactiveTest(t *testing.T) {
	s := NewSelector()
	assert.Nil(t, s.Select(nil, ""))
	assert.Nil(t, s.Select(&Test{Status: TestPaused, Variants: fiftyFifty().Variants}, ""))
	assert.Nil(t, s.Select(&Test{Status: TestActive}, ""), "active test with no variants selects nothing")
}

func TestSelect_ExplicitIdentifier(t *testing.T) {
	s := NewSelector()
	test := fiftyFifty()

	v := s.Select(test, "variantB")
	require.NotNil(t, v)
	assert.Equal(t, int64(11), v.ID)

	v = s.Select(test, "VARIANTB")
	require.NotNil(t, v)
	assert.Equal(t, int64(11), v.ID, "name match is case-insensitive")

	v = s.Select(test, "10")
	require.NotNil(t, v)
	assert.Equal(t, int64(10), v.ID, "numeric identifier matches by id")

	// explicit selection is deterministic across calls
	for i := 0; i < 20; i++ {
		assert.Equal(t, int64(11), s.Select(test, "variantB").ID)
	}
}

func TestSelect_UnknownExplicitFallsBackToDraw(t *testing.T) {
	s := NewSelectorWithRand(rand.New(rand.NewSource(1)))
	v := s.Select(fiftyFifty(), "no-such-variant")
	require.NotNil(t, v, "unknown identifier still serves a variant")
}

func TestSelect_GapFallsBackToFirstVariant(t *testing.T) {
	// Percentages sum to 20; force a draw deep in the gap.
	s := &Selector{randPercent: func() float64 { return 95 }}
	test := &Test{
		Status: TestActive,
		Variants: []Variant{
			{ID: 1, Name: "a", TrafficPercent: 10},
			{ID: 2, Name: "b", TrafficPercent: 10},
		},
	}
	v := s.Select(test, "")
	require.NotNil(t, v)
	assert.Equal(t, int64(1), v.ID)
}

func TestSelect_WeightedProportions(t *testing.T) {
	s := NewSelectorWithRand(rand.New(rand.NewSource(42)))
	test := fiftyFifty()

	const trials = 10000
	counts := map[int64]int{}
	for i := 0; i < trials; i++ {
		v := s.Select(test, "")
		require.NotNil(t, v)
		counts[v.ID]++
	}

	// 50/50 split within generous statistical tolerance
	assert.InDelta(t, trials/2, counts[10], trials*0.03)
	assert.InDelta(t, trials/2, counts[11], trials*0.03)
}

func TestApply_Overrides(t *testing.T) {
	timeout := 1000
	gran := "dense"
	floor := decimal.RequireFromString("0.50")
	base := rules.Settings{
		TimeoutMS:        &timeout,
		PriceGranularity: &gran,
		Bidders: []rules.Bidder{
			{Name: "appnexus", Params: map[string]any{"placementId": "123", "member": "1"}},
			{Name: "rubicon", Params: map[string]any{"zoneId": "9"}},
		},
	}

	newTimeout := 2500
	sendAll := true
	v := &Variant{
		Name: "variantB",
		Overrides: Overrides{
			TimeoutMS:   &newTimeout,
			SendAllBids: &sendAll,
			FloorPrice:  &floor,
			BidderParams: map[string]map[string]any{
				"appnexus": {"placementId": "999"},
			},
		},
	}

	got := Apply(base, v)
	assert.Equal(t, 2500, *got.TimeoutMS)
	assert.Equal(t, "dense", *got.PriceGranularity, "unset override leaves base value")
	assert.True(t, *got.SendAllBids)
	assert.True(t, got.FloorPrice.Equal(floor))
	assert.Equal(t, "999", got.Bidders[0].Params["placementId"])
	assert.Equal(t, "1", got.Bidders[0].Params["member"], "unoverridden params survive the merge")
	assert.Equal(t, "9", got.Bidders[1].Params["zoneId"])

	// base must not be mutated
	assert.Equal(t, 1000, *base.TimeoutMS)
	assert.Equal(t, "123", base.Bidders[0].Params["placementId"])
}

func TestApply_ControlLeavesBaseUntouched(t *testing.T) {
	timeout := 1000
	base := rules.Settings{TimeoutMS: &timeout}
	newTimeout := 9999

	got := Apply(base, &Variant{IsControl: true, Overrides: Overrides{TimeoutMS: &newTimeout}})
	assert.Equal(t, 1000, *got.TimeoutMS)

	got = Apply(base, nil)
	assert.Equal(t, 1000, *got.TimeoutMS)
}

func TestParseOverrides(t *testing.T) {
	o, err := ParseOverrides([]byte(`{"timeoutMs":800,"floorPrice":"1.25"}`))
	require.NoError(t, err)
	assert.Equal(t, 800, *o.TimeoutMS)
	assert.Equal(t, "1.25", o.FloorPrice.String())

	_, err = ParseOverrides([]byte(`{broken`))
	assert.Error(t, err)

	o, err = ParseOverrides(nil)
	assert.NoError(t, err)
	assert.Nil(t, o.TimeoutMS)
}
