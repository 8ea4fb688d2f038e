// Package delivery wires the serving path together: detect attributes, check
// the variant cache, and on a miss resolve rules, generate the payload and
// cache it.
package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/abtest"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/detect"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/observability"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/rules"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/storage"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/vcache"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/wrapper"
)

var (
	ErrPublisherNotFound = errors.New("publisher not found")
	ErrPublisherInactive = errors.New("publisher not active")
	ErrNoConfig          = errors.New("no config found")
)

// Provider is the read-only config collaborator. *storage.Store satisfies it;
// tests substitute fakes.
type Provider interface {
	PublisherByID(ctx context.Context, id int64) (storage.Publisher, error)
	PublisherBySlug(ctx context.Context, slug string) (storage.Publisher, error)
	ListActiveConfigsWithRules(ctx context.Context, publisherID int64) ([]rules.ConfigRule, error)
	ActiveABTest(ctx context.Context, publisherID int64) (*abtest.Test, error)
}

// ServeLogger records successful serves. Optional; nil disables logging.
type ServeLogger interface {
	LogServe(ctx context.Context, ev storage.ServeEvent)
}

type Service struct {
	provider Provider
	cache    *vcache.Cache
	gen      *wrapper.Generator
	selector *abtest.Selector
	serveLog ServeLogger
}

func New(provider Provider, cache *vcache.Cache, gen *wrapper.Generator, serveLog ServeLogger) *Service {
	return &Service{
		provider: provider,
		cache:    cache,
		gen:      gen,
		selector: abtest.NewSelector(),
		serveLog: serveLog,
	}
}

// ServeScript returns the wrapper payload for a publisher and raw request
// metadata. Cache hits skip resolution entirely; misses resolve synchronously
// in-request — two concurrent misses for the same key may both regenerate,
// which is wasted work but not a correctness problem since generation is
// deterministic.
func (s *Service) ServeScript(ctx context.Context, publisherID int64, country, userAgent string) ([]byte, error) {
	attrs := detect.FromRequest(country, userAgent)
	key := vcache.Key(publisherID, attrs)

	if payload, ok := s.cache.Get(key); ok {
		return payload, nil
	}

	pub, err := s.provider.PublisherByID(ctx, publisherID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrPublisherNotFound
		}
		return nil, err
	}
	if !pub.Active() {
		return nil, ErrPublisherInactive
	}

	cfg, rule, err := s.resolve(ctx, pub.ID, attrs)
	if err != nil {
		return nil, err
	}

	payload := s.gen.Generate(*cfg, attrs, rule)
	s.cache.Put(key, payload)

	if s.serveLog != nil {
		ev := storage.ServeEvent{
			PublisherID: pub.ID,
			ConfigID:    cfg.ID,
			Attributes:  attrs,
			ServedAt:    time.Now().UTC(),
		}
		if rule != nil {
			id := rule.ID
			ev.RuleID = &id
		}
		// Detached from the request: the response must not wait on, or fail
		// with, the serve log.
		go s.serveLog.LogServe(context.WithoutCancel(ctx), ev)
	}

	return payload, nil
}

// ConfigResult is the resolved configuration for the public JSON endpoint,
// with experiment metadata when a test is running.
type ConfigResult struct {
	Publisher   storage.Publisher
	Config      rules.WrapperConfig
	MatchedRule *rules.Rule
	Attributes  detect.Attributes
	ABTestID    *int64
	Variant     *abtest.Variant
}

// ExperimentActive reports whether an A/B test drove this result; the HTTP
// layer shortens Cache-Control when it did.
func (r ConfigResult) ExperimentActive() bool { return r.ABTestID != nil }

// ResolveConfig resolves the publisher's configuration as structured data,
// applying A/B variant overrides when an experiment is active. explicitVariant
// pins a known variant for preview links; unknown or empty falls back to the
// weighted draw. Not served from the variant cache: variant assignment is
// random per request.
func (s *Service) ResolveConfig(ctx context.Context, slug, country, userAgent, explicitVariant string) (ConfigResult, error) {
	pub, err := s.provider.PublisherBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ConfigResult{}, ErrPublisherNotFound
		}
		return ConfigResult{}, err
	}
	if !pub.Active() {
		return ConfigResult{}, ErrPublisherInactive
	}

	attrs := detect.FromRequest(country, userAgent)
	cfg, rule, err := s.resolve(ctx, pub.ID, attrs)
	if err != nil {
		return ConfigResult{}, err
	}

	res := ConfigResult{Publisher: pub, Config: *cfg, MatchedRule: rule, Attributes: attrs}

	test, err := s.provider.ActiveABTest(ctx, pub.ID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		// An experiment lookup failure downgrades to "no experiment" rather
		// than failing the config fetch.
		log.Warn().Err(err).Int64("publisher_id", pub.ID).Msg("ab test lookup failed")
		test = nil
	}
	if test.Active() {
		if v := s.selector.Select(test, explicitVariant); v != nil {
			res.ABTestID = &test.ID
			res.Variant = v
			res.Config.Settings = abtest.Apply(res.Config.Settings, v)
		}
	}

	return res, nil
}

// resolve runs the rule evaluation and default fallback for a publisher.
func (s *Service) resolve(ctx context.Context, publisherID int64, attrs detect.Attributes) (*rules.WrapperConfig, *rules.Rule, error) {
	pairs, err := s.provider.ListActiveConfigsWithRules(ctx, publisherID)
	if err != nil {
		return nil, nil, err
	}
	rules.SortPairs(pairs)

	observability.RuleEvaluations.Inc()
	cfg, rule := rules.Evaluate(attrs, pairs)
	if cfg == nil {
		cfg = rules.DefaultConfig(pairs)
	}
	if cfg == nil {
		return nil, nil, ErrNoConfig
	}
	return cfg, rule, nil
}
