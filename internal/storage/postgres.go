package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/abtest"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/config"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/rules"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

type Publisher struct {
	ID     int64
	Slug   string
	Name   string
	Status string
}

func (p Publisher) Active() bool { return p.Status == "active" }

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) PublisherByID(ctx context.Context, id int64) (Publisher, error) {
	return s.publisher(ctx, `SELECT id, slug, name, status FROM publishers WHERE id = $1`, id)
}

func (s *Store) PublisherBySlug(ctx context.Context, slug string) (Publisher, error) {
	return s.publisher(ctx, `SELECT id, slug, name, status FROM publishers WHERE slug = $1`, slug)
}

func (s *Store) publisher(ctx context.Context, query string, arg any) (Publisher, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p Publisher
	err := s.pool.QueryRow(ctx, query, arg).Scan(&p.ID, &p.Slug, &p.Name, &p.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Publisher{}, ErrNotFound
	}
	if err != nil {
		return Publisher{}, fmt.Errorf("query publisher: %w", err)
	}
	return p, nil
}

// ListActiveConfigsWithRules loads the publisher's active configs joined with
// their targeting rules. The query orders by priority descending with rule id
// ascending as the tiebreaker, and the evaluator re-sorts with the same
// comparison rather than trusting join order.
func (s *Store) ListActiveConfigsWithRules(ctx context.Context, publisherID int64) ([]rules.ConfigRule, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.publisher_id, c.name, c.status, c.is_default, c.block_wrapper, c.version, c.settings,
		       r.id, r.conditions, r.match_type, r.priority, r.enabled
		FROM wrapper_configs c
		LEFT JOIN targeting_rules r ON r.config_id = c.id AND r.enabled
		WHERE c.publisher_id = $1 AND c.status = 'active'
		ORDER BY r.priority DESC NULLS LAST, r.id ASC
	`, publisherID)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer rows.Close()

	var out []rules.ConfigRule
	for rows.Next() {
		var (
			cfg      rules.WrapperConfig
			settings []byte

			ruleID     *int64
			conditions []byte
			matchType  *string
			priority   *int
			enabled    *bool
		)
		if err := rows.Scan(
			&cfg.ID, &cfg.PublisherID, &cfg.Name, &cfg.Status, &cfg.IsDefault, &cfg.BlockWrapper, &cfg.Version, &settings,
			&ruleID, &conditions, &matchType, &priority, &enabled,
		); err != nil {
			return nil, fmt.Errorf("scan config row: %w", err)
		}

		cfg.Settings = parseSettingsLenient(cfg.ID, settings)

		pair := rules.ConfigRule{Config: cfg}
		if ruleID != nil {
			r := rules.Rule{ID: *ruleID, ConfigID: cfg.ID}
			if matchType != nil {
				r.MatchType = rules.MatchType(*matchType)
			}
			if priority != nil {
				r.Priority = *priority
			}
			if enabled != nil {
				r.Enabled = *enabled
			}
			// Malformed conditions leave an empty set; the evaluator treats
			// the rule as never-matching.
			if len(conditions) > 0 {
				if err := decodeConditions(conditions, &r.Conditions); err != nil {
					logBadRow(cfg.PublisherID, cfg.ID, *ruleID, err)
				}
			}
			pair.Rule = &r
		}
		out = append(out, pair)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ActiveABTest returns the publisher's running experiment with its variants,
// or ErrNotFound.
func (s *Store) ActiveABTest(ctx context.Context, publisherID int64) (*abtest.Test, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.status, v.id, v.name, v.traffic_percent, v.is_control, v.overrides
		FROM ab_tests t
		JOIN ab_variants v ON v.test_id = t.id
		WHERE t.publisher_id = $1 AND t.status = 'active'
		ORDER BY v.id
	`, publisherID)
	if err != nil {
		return nil, fmt.Errorf("query ab test: %w", err)
	}
	defer rows.Close()

	var test *abtest.Test
	for rows.Next() {
		var (
			testID    int64
			status    string
			v         abtest.Variant
			overrides []byte
		)
		if err := rows.Scan(&testID, &status, &v.ID, &v.Name, &v.TrafficPercent, &v.IsControl, &overrides); err != nil {
			return nil, fmt.Errorf("scan ab variant: %w", err)
		}
		if test == nil {
			test = &abtest.Test{ID: testID, Status: abtest.TestStatus(status)}
		}
		if o, err := abtest.ParseOverrides(overrides); err != nil {
			logBadRow(publisherID, 0, v.ID, err)
		} else {
			v.Overrides = o
		}
		test.Variants = append(test.Variants, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	if test == nil {
		return nil, ErrNotFound
	}
	return test, nil
}
