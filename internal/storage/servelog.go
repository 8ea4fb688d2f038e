package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/detect"
)

// ServeEvent records one successful wrapper serve.
type ServeEvent struct {
	PublisherID int64
	ConfigID    int64
	RuleID      *int64
	Attributes  detect.Attributes
	ServedAt    time.Time
}

// LogServe writes the serve-log row and bumps the config's impressions
// counter. Fire-and-forget: callers invoke it after the response is written
// and a failure here never affects what was served.
func (s *Store) LogServe(ctx context.Context, ev ServeEvent) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if ev.ServedAt.IsZero() {
		ev.ServedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO serve_log (id, publisher_id, config_id, rule_id, geo, device, browser, os, served_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9)
	`, uuid.New(), ev.PublisherID, ev.ConfigID, ev.RuleID,
		ev.Attributes.Geo, string(ev.Attributes.Device), ev.Attributes.Browser, ev.Attributes.OS, ev.ServedAt)
	if err != nil {
		log.Warn().Err(err).Int64("publisher_id", ev.PublisherID).Msg("serve log insert failed")
		return
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE wrapper_configs SET impressions = impressions + 1 WHERE id = $1
	`, ev.ConfigID); err != nil {
		log.Warn().Err(err).Int64("config_id", ev.ConfigID).Msg("impressions increment failed")
	}
}
