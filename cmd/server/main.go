package main

import (
	app "github.com/StreetsDigital/prebidjs-light-sub004/internal/app/server"
	"github.com/StreetsDigital/prebidjs-light-sub004/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	app.Run(cfg)
}
