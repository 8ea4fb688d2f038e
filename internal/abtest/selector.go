// Package abtest selects an experiment variant for the public config
// endpoint and applies its overrides to the base resolved configuration.
package abtest

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/observability"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/rules"
)

type TestStatus string

const (
	TestDraft    TestStatus = "draft"
	TestActive   TestStatus = "active"
	TestPaused   TestStatus = "paused"
	TestFinished TestStatus = "finished"
)

// Overrides are the variant's field-level deltas against the base config.
// Nil fields leave the base value untouched.
type Overrides struct {
	TimeoutMS        *int                      `json:"timeoutMs,omitempty"`
	PriceGranularity *string                   `json:"priceGranularity,omitempty"`
	SendAllBids      *bool                     `json:"sendAllBids,omitempty"`
	BidderSequence   *string                   `json:"bidderSequence,omitempty"`
	FloorPrice       *decimal.Decimal          `json:"floorPrice,omitempty"`
	BidderParams     map[string]map[string]any `json:"bidderParams,omitempty"`
}

// ParseOverrides decodes a stored overrides blob; malformed data degrades to
// no overrides.
func ParseOverrides(raw []byte) (Overrides, error) {
	if len(raw) == 0 {
		return Overrides{}, nil
	}
	var o Overrides
	if err := json.Unmarshal(raw, &o); err != nil {
		return Overrides{}, fmt.Errorf("decode overrides: %w", err)
	}
	return o, nil
}

type Variant struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	TrafficPercent float64   `json:"trafficPercent"`
	IsControl      bool      `json:"isControl"`
	Overrides      Overrides `json:"overrides"`
}

type Test struct {
	ID       int64      `json:"id"`
	Status   TestStatus `json:"status"`
	Variants []Variant  `json:"variants"`
}

func (t *Test) Active() bool { return t != nil && t.Status == TestActive && len(t.Variants) > 0 }

// Selector assigns variants. The random source is injectable so distribution
// tests are reproducible.
type Selector struct {
	randPercent func() float64 // uniform in [0,100)
}

func NewSelector() *Selector {
	return &Selector{randPercent: func() float64 { return rand.Float64() * 100 }}
}

// NewSelectorWithRand builds a Selector drawing from the given source.
func NewSelectorWithRand(r *rand.Rand) *Selector {
	return &Selector{randPercent: func() float64 { return r.Float64() * 100 }}
}

// Select picks a variant from an active test. An explicit identifier (variant
// id or name) wins deterministically when it names a known variant, which is
// what makes preview links sticky. Otherwise the draw walks the variants
// accumulating trafficPercent; if the percentages sum under 100 and the draw
// lands in the gap, the first variant is served — an active test always
// serves something.
func (s *Selector) Select(t *Test, explicit string) *Variant {
	if !t.Active() {
		return nil
	}

	if explicit != "" {
		for i := range t.Variants {
			v := &t.Variants[i]
			if strings.EqualFold(v.Name, explicit) || strconv.FormatInt(v.ID, 10) == explicit {
				observability.ABAssignments.WithLabelValues(v.Name).Inc()
				return v
			}
		}
		// unknown identifier falls through to the weighted draw
	}

	draw := s.randPercent()
	var cum float64
	for i := range t.Variants {
		cum += t.Variants[i].TrafficPercent
		if draw < cum {
			observability.ABAssignments.WithLabelValues(t.Variants[i].Name).Inc()
			return &t.Variants[i]
		}
	}
	v := &t.Variants[0]
	observability.ABAssignments.WithLabelValues(v.Name).Inc()
	return v
}

// Apply layers the variant's overrides onto base and returns the result.
// The control variant serves the base untouched.
func Apply(base rules.Settings, v *Variant) rules.Settings {
	if v == nil || v.IsControl {
		return base
	}
	o := v.Overrides
	if o.TimeoutMS != nil {
		base.TimeoutMS = o.TimeoutMS
	}
	if o.PriceGranularity != nil {
		base.PriceGranularity = o.PriceGranularity
	}
	if o.SendAllBids != nil {
		base.SendAllBids = o.SendAllBids
	}
	if o.BidderSequence != nil {
		base.BidderSequence = o.BidderSequence
	}
	if o.FloorPrice != nil {
		base.FloorPrice = o.FloorPrice
	}
	if len(o.BidderParams) > 0 {
		bidders := make([]rules.Bidder, len(base.Bidders))
		copy(bidders, base.Bidders)
		for i := range bidders {
			if params, ok := o.BidderParams[bidders[i].Name]; ok {
				merged := make(map[string]any, len(bidders[i].Params)+len(params))
				for k, val := range bidders[i].Params {
					merged[k] = val
				}
				for k, val := range params {
					merged[k] = val
				}
				bidders[i].Params = merged
			}
		}
		base.Bidders = bidders
	}
	return base
}
