package rules

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type ConfigStatus string

const (
	StatusDraft    ConfigStatus = "draft"
	StatusActive   ConfigStatus = "active"
	StatusPaused   ConfigStatus = "paused"
	StatusArchived ConfigStatus = "archived"
)

type MatchType string

const (
	MatchAll MatchType = "all"
	MatchAny MatchType = "any"
)

type Operator string

const (
	OpEquals   Operator = "equals"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpNotIn    Operator = "not_in"
)

// Condition is one attribute check inside a targeting rule. Value carries the
// scalar operand for equals/contains; Values carries the list operand for
// in/not_in. Stored rows encode the operand as either a JSON string or a JSON
// array under a single "value" key, so decoding accepts both.
type Condition struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Value     string   `json:"-"`
	Values    []string `json:"-"`
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var raw struct {
		Attribute string          `json:"attribute"`
		Operator  Operator        `json:"operator"`
		Value     json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Attribute = raw.Attribute
	c.Operator = raw.Operator
	if len(raw.Value) == 0 {
		return nil
	}
	if raw.Value[0] == '[' {
		return json.Unmarshal(raw.Value, &c.Values)
	}
	return json.Unmarshal(raw.Value, &c.Value)
}

func (c Condition) MarshalJSON() ([]byte, error) {
	out := map[string]any{"attribute": c.Attribute, "operator": c.Operator}
	if c.Values != nil {
		out["value"] = c.Values
	} else {
		out["value"] = c.Value
	}
	return json.Marshal(out)
}

// Rule is a prioritized condition set owned by exactly one wrapper config.
type Rule struct {
	ID         int64       `json:"id"`
	ConfigID   int64       `json:"configId"`
	Conditions []Condition `json:"conditions"`
	MatchType  MatchType   `json:"matchType"`
	Priority   int         `json:"priority"`
	Enabled    bool        `json:"enabled"`
}

// Bidder is one demand partner entry in a wrapper config.
type Bidder struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

type AdSize struct {
	W int `json:"w"`
	H int `json:"h"`
}

type AdUnit struct {
	Code  string   `json:"code"`
	Sizes []AdSize `json:"sizes,omitempty"`
}

// Settings is the typed view of a config's stored settings blob. All fields
// are optional; absent fields keep client-side defaults. Parsed with
// ParseSettings so malformed stored data degrades to empty settings instead
// of failing the request.
type Settings struct {
	TimeoutMS        *int             `json:"timeoutMs,omitempty"`
	PriceGranularity *string          `json:"priceGranularity,omitempty"`
	Currency         *string          `json:"currency,omitempty"`
	SendAllBids      *bool            `json:"sendAllBids,omitempty"`
	BidderSequence   *string          `json:"bidderSequence,omitempty"`
	FloorPrice       *decimal.Decimal `json:"floorPrice,omitempty"`
	Bidders          []Bidder         `json:"bidders,omitempty"`
	AdUnits          []AdUnit         `json:"adUnits,omitempty"`
}

// ParseSettings decodes a stored settings blob, returning empty settings and
// an error on malformed data. Callers log the error and serve with defaults.
func ParseSettings(raw []byte) (Settings, error) {
	if len(raw) == 0 {
		return Settings{}, nil
	}
	var s Settings
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

// WrapperConfig is a publisher's header-bidding configuration as read from
// storage. Read-only on the serving path; mutations happen elsewhere and
// reach this core only as cache invalidations.
type WrapperConfig struct {
	ID           int64        `json:"id"`
	PublisherID  int64        `json:"publisherId"`
	Name         string       `json:"name"`
	Status       ConfigStatus `json:"status"`
	IsDefault    bool         `json:"isDefault"`
	BlockWrapper bool         `json:"blockWrapper"`
	Version      int          `json:"version"`
	Settings     Settings     `json:"settings"`
}

// ConfigRule pairs an active config with its enabled targeting rule, if any.
type ConfigRule struct {
	Config WrapperConfig
	Rule   *Rule
}
