package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huefx/internal/app"
	"github.com/dokzlo13/huefx/internal/config"
)

func main() {
	// Support both -c and --config for config path
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	serveMCP := flag.Bool("mcp", false, "Serve MCP tools on stdio instead of HTTP")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Logs always go to stderr; stdout carries MCP frames.
	setupLogging(cfg.Log)

	log.Info().Str("config", configPath).Msg("Starting huefx")

	ctx := app.SignalContext()

	discoverCtx, cancel := context.WithTimeout(ctx, cfg.Bridge.DiscoveryTimeout.Duration()+5*time.Second)
	application, err := app.New(discoverCtx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	mode := app.ModeHTTP
	if *serveMCP {
		mode = app.ModeMCP
	}
	if err := application.Run(ctx, mode); err != nil {
		log.Error().Err(err).Msg("huefx stopped with error")
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !cfg.Colors,
		})
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
