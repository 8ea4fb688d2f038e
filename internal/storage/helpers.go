package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/rules"
)

// parseSettingsLenient decodes a config's settings blob, degrading to empty
// settings on bad stored data. Bad data is logged, not fatal: a publisher's
// broken settings should not 500 their pages.
func parseSettingsLenient(configID int64, raw []byte) rules.Settings {
	s, err := rules.ParseSettings(raw)
	if err != nil {
		log.Warn().Err(err).Int64("config_id", configID).Msg("malformed stored settings; serving defaults")
	}
	return s
}

func decodeConditions(raw []byte, out *[]rules.Condition) error {
	if err := json.Unmarshal(raw, out); err != nil {
		*out = nil
		return fmt.Errorf("decode conditions: %w", err)
	}
	return nil
}

func logBadRow(publisherID, configID, rowID int64, err error) {
	log.Warn().Err(err).
		Int64("publisher_id", publisherID).
		Int64("config_id", configID).
		Int64("row_id", rowID).
		Msg("malformed stored row; skipping")
}

// ListenChannel is the default LISTEN/NOTIFY channel configuration mutations
// are announced on. The notification payload is the affected publisher id.
func (s *Store) ListenChannel() string {
	return "wrapper_config_change"
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
