// Package listener subscribes to Postgres NOTIFY events emitted by the admin
// surface whenever a publisher's config or targeting rule changes, and purges
// that publisher's variant cache entries. This is what bounds staleness to
// "TTL or next mutation, whichever is sooner".
package listener

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/storage"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/vcache"
)

func ListenAndInvalidate(ctx context.Context, st *storage.Store, cache *vcache.Cache, channel string, baseBackoff time.Duration) {
	conn, err := st.PgxPool().Acquire(ctx)
	if err != nil {
		log.Error().Err(err).Msg("acquire conn for listen")
		return
	}
	defer conn.Release()

	if channel == "" {
		channel = st.ListenChannel()
	}
	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("listen")
		return
	}
	log.Info().Str("channel", channel).Msg("listening for config changes")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener stopped")
			return
		default:
			ntf, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				backoff := jitter(baseBackoff)
				log.Error().Err(err).Dur("retry_in", backoff).Msg("notify wait error")
				time.Sleep(backoff)
				continue
			}
			// payload is the affected publisher id
			publisherID, err := strconv.ParseInt(ntf.Payload, 10, 64)
			if err != nil {
				log.Warn().Str("payload", ntf.Payload).Msg("unparseable notify payload; ignoring")
				continue
			}
			removed := cache.InvalidatePublisher(publisherID)
			log.Info().Int64("publisher_id", publisherID).Int("removed", removed).Msg("config change; cache invalidated")
		}
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x-1.5x
	return time.Duration(float64(base) * factor)
}
