package wrapper

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/detect"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/rules"
)

func intp(v int) *int { return &v }

func testConfig() rules.WrapperConfig {
	return rules.WrapperConfig{
		ID:          11,
		PublisherID: 7,
		Name:        "uk-mobile",
		Status:      rules.StatusActive,
		Version:     3,
		Settings: rules.Settings{
			TimeoutMS: intp(1500),
			Bidders:   []rules.Bidder{{Name: "appnexus", Params: map[string]any{"placementId": "123"}}},
			AdUnits:   []rules.AdUnit{{Code: "div-top", Sizes: []rules.AdSize{{W: 728, H: 90}}}},
		},
	}
}

// embeddedFrom extracts and decodes the window.pbjsLight.config object from a
// generated payload.
func embeddedFrom(t *testing.T, payload []byte) EmbeddedConfig {
	t.Helper()
	s := string(payload)
	start := strings.Index(s, "window.pbjsLight.config = ")
	require.GreaterOrEqual(t, start, 0, "payload must embed a config object")
	s = s[start+len("window.pbjsLight.config = "):]
	end := strings.Index(s, ";\n")
	require.GreaterOrEqual(t, end, 0)

	var ec EmbeddedConfig
	require.NoError(t, json.Unmarshal([]byte(s[:end]), &ec))
	return ec
}

func TestGenerate_EmbedsConfigAheadOfTemplate(t *testing.T) {
	g := New("does/not/exist.js")
	g.SetTemplate([]byte("/* base wrapper */\nconsole.log('pbjs-light');\n"))

	attrs := detect.Attributes{Geo: "GB", Device: detect.DeviceMobile, Browser: "chrome", OS: "android"}
	rule := &rules.Rule{ID: 99}
	payload := g.Generate(testConfig(), attrs, rule)

	s := string(payload)
	assert.Less(t, strings.Index(s, "window.pbjsLight.config"), strings.Index(s, "/* base wrapper */"),
		"config must precede the template so the page reads it synchronously")

	ec := embeddedFrom(t, payload)
	assert.Equal(t, int64(7), ec.PublisherID)
	assert.Equal(t, int64(11), ec.ConfigID)
	assert.Equal(t, 3, ec.Version)
	require.NotNil(t, ec.Settings.TimeoutMS)
	assert.Equal(t, 1500, *ec.Settings.TimeoutMS)
	require.NotNil(t, ec.Targeting.MatchedRuleID)
	assert.Equal(t, int64(99), *ec.Targeting.MatchedRuleID)
	assert.Equal(t, "GB", ec.Targeting.Geo)
	assert.Equal(t, "mobile", ec.Targeting.Device)
}

func TestGenerate_DefaultFallbackHasNoRuleID(t *testing.T) {
	g := New("does/not/exist.js")
	g.SetTemplate([]byte("x"))

	ec := embeddedFrom(t, g.Generate(testConfig(), detect.Attributes{Device: detect.DeviceDesktop}, nil))
	assert.Nil(t, ec.Targeting.MatchedRuleID)
}

func TestGenerate_BlockedConfigServesStub(t *testing.T) {
	g := New("does/not/exist.js")
	g.SetTemplate([]byte("REAL BIDDING LOGIC"))

	cfg := testConfig()
	cfg.BlockWrapper = true
	payload := g.Generate(cfg, detect.Attributes{Device: detect.DeviceDesktop}, nil)

	s := string(payload)
	assert.Contains(t, s, `"blocked":true`)
	assert.Contains(t, s, `"configId":11`)
	assert.NotContains(t, s, "REAL BIDDING LOGIC")
	assert.NotContains(t, s, "appnexus", "blocked payload must not leak bidder config")
}

func TestGenerate_MissingTemplateDegradesToStub(t *testing.T) {
	g := New("does/not/exist.js")

	payload := g.Generate(testConfig(), detect.Attributes{Device: detect.DeviceDesktop}, nil)
	assert.Contains(t, string(payload), "base template unavailable")
	// config is still embedded so the endpoint degrades, not fails
	ec := embeddedFrom(t, payload)
	assert.Equal(t, int64(11), ec.ConfigID)
}

func TestGenerator_Reload(t *testing.T) {
	g := New("does/not/exist.js")
	assert.Error(t, g.Reload("still/missing.js"))

	tmp := t.TempDir() + "/wrapper.js"
	require.NoError(t, os.WriteFile(tmp, []byte("/* reloaded */"), 0o644))
	require.NoError(t, g.Reload(tmp))

	payload := g.Generate(testConfig(), detect.Attributes{Device: detect.DeviceDesktop}, nil)
	assert.Contains(t, string(payload), "/* reloaded */")
}
