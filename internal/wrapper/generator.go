// Package wrapper turns a resolved config into the script payload served to
// publisher pages. The config is embedded ahead of the base client template
// so the page reads it synchronously, with no second fetch on the critical
// path.
package wrapper

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/cache"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/detect"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/rules"
)

const stubBanner = "/* prebidjs-light: base template unavailable; serving config-only stub */\n"

// EmbeddedConfig is the object spliced into the served script under
// window.pbjsLight.config.
type EmbeddedConfig struct {
	PublisherID int64          `json:"publisherId"`
	ConfigID    int64          `json:"configId"`
	ConfigName  string         `json:"configName,omitempty"`
	Version     int            `json:"version"`
	Settings    rules.Settings `json:"settings"`
	Targeting   Targeting      `json:"targeting"`
	GeneratedAt time.Time      `json:"generatedAt"`
}

// Targeting records which rule (if any) selected the config and the request
// attributes it was selected for.
type Targeting struct {
	MatchedRuleID *int64 `json:"matchedRuleId,omitempty"`
	Geo           string `json:"geo,omitempty"`
	Device        string `json:"device"`
	Browser       string `json:"browser,omitempty"`
	OS            string `json:"os,omitempty"`
}

// BlockedStub is what gets embedded when a config carries blockWrapper: a
// flagged no-op, served and cached like any other payload.
type BlockedStub struct {
	Blocked  bool   `json:"blocked"`
	Reason   string `json:"reason"`
	ConfigID int64  `json:"configId"`
}

// Generator renders payloads against a base template held in an atomically
// swappable snapshot, so a template reload never blocks generation.
type Generator struct {
	tmpl cache.Snapshot[[]byte]
}

// New loads the base template from path. A missing or unreadable template is
// not fatal: generation degrades to a labeled stub until a reload succeeds.
func New(templatePath string) *Generator {
	g := &Generator{}
	if err := g.Reload(templatePath); err != nil {
		log.Warn().Err(err).Str("path", templatePath).Msg("base template unavailable; stub payloads until reload")
	}
	return g
}

// Reload re-reads the base template from disk and swaps it in.
func (g *Generator) Reload(templatePath string) error {
	b, err := os.ReadFile(templatePath)
	if err != nil {
		return fmt.Errorf("read wrapper template: %w", err)
	}
	g.tmpl.Store(b)
	return nil
}

// SetTemplate swaps in an in-memory template. Used by tests.
func (g *Generator) SetTemplate(b []byte) { g.tmpl.Store(b) }

// Generate renders the deliverable script for a resolved config. matchedRule
// is nil when the config came from the default fallback.
func (g *Generator) Generate(cfg rules.WrapperConfig, attrs detect.Attributes, matchedRule *rules.Rule) []byte {
	if cfg.BlockWrapper {
		return g.renderBlocked(cfg)
	}

	ec := EmbeddedConfig{
		PublisherID: cfg.PublisherID,
		ConfigID:    cfg.ID,
		ConfigName:  cfg.Name,
		Version:     cfg.Version,
		Settings:    cfg.Settings,
		Targeting: Targeting{
			Geo:     attrs.Geo,
			Device:  string(attrs.Device),
			Browser: attrs.Browser,
			OS:      attrs.OS,
		},
		GeneratedAt: time.Now().UTC(),
	}
	if matchedRule != nil {
		id := matchedRule.ID
		ec.Targeting.MatchedRuleID = &id
	}

	blob, err := json.Marshal(ec)
	if err != nil {
		// Settings is plain data; this only fires on future non-marshalable
		// additions. Fail open with a stub rather than a 5xx.
		log.Error().Err(err).Int64("config_id", cfg.ID).Msg("embedded config marshal failed")
		blob = []byte(fmt.Sprintf(`{"publisherId":%d,"configId":%d}`, cfg.PublisherID, cfg.ID))
	}

	head := "window.pbjsLight = window.pbjsLight || {};\nwindow.pbjsLight.config = " + string(blob) + ";\n"

	tmpl, ok := g.tmpl.Load()
	if !ok {
		return []byte(stubBanner + head)
	}
	out := make([]byte, 0, len(head)+len(tmpl)+1)
	out = append(out, head...)
	out = append(out, tmpl...)
	return out
}

func (g *Generator) renderBlocked(cfg rules.WrapperConfig) []byte {
	blob, _ := json.Marshal(BlockedStub{Blocked: true, Reason: "wrapper blocked by configuration", ConfigID: cfg.ID})
	return []byte("window.pbjsLight = window.pbjsLight || {};\nwindow.pbjsLight.blocked = " + string(blob) + ";\n")
}
