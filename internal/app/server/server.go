package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/StreetsDigital/prebidjs-light-sub004/internal/api"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/config"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/delivery"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/listener"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/storage"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/vcache"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/wrapper"
)

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init storage")
	}
	defer store.Close()

	// Variant cache with background sweeper
	cache := vcache.New(vcache.Options{
		TTL:           cfg.CacheTTL(),
		SweepInterval: cfg.SweepInterval(),
		MaxEntries:    cfg.Cache.MaxEntries,
	})
	cache.Start()
	defer cache.Stop()

	// Payload generation + resolution
	gen := wrapper.New(cfg.Wrapper.TemplatePath)
	svc := delivery.New(store, cache, gen, store)

	// HTTP
	h := api.NewHandler(svc, cfg.Wrapper.GeoHeader)
	r := api.Router(h)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Invalidation listener (LISTEN/NOTIFY)
	go listener.ListenAndInvalidate(rootCtx, store, cache, cfg.Listener.Channel, cfg.Backoff())

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
