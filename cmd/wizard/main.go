// Package main provides the SmogView terminal wizard: choose a station, one
// of its sensors and a time range, and print a report of the series.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/smogview/smogview/internal/acquisition"
	"github.com/smogview/smogview/internal/airquality/gios"
	"github.com/smogview/smogview/internal/config"
	"github.com/smogview/smogview/internal/store"
	"github.com/smogview/smogview/internal/wizard"
)

// Version is set at compile time via ldflags.
var Version = "dev"

func main() {
	// Logs go to stderr so they do not interleave with the report.
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().
		Timestamp().
		Str("version", Version).
		Logger()

	cfg, err := config.Load(log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := store.Open(ctx, cfg.StoreConfig(log))
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open local cache")
	}
	defer cache.Close()

	client := gios.NewClient(gios.ClientConfig{
		BaseURL:    cfg.GIOSBaseURL,
		Timeout:    cfg.GIOSTimeout,
		MaxRetries: cfg.GIOSMaxRetries,
		Location:   cfg.Location,
		Logger:     log,
	})

	coordinator := acquisition.NewCoordinator(acquisition.Config{
		Fetcher: client,
		Store:   cache.Store,
		Logger:  log,
	})

	machine := wizard.NewMachine(wizard.Config{
		Fetcher:  client,
		Store:    cache.Store,
		Acquirer: coordinator,
		Location: cfg.Location,
		Logger:   log,
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	c := newConsole(machine, os.Stdout, cfg.Location, nil)
	if err := c.run(ctx, lines); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("wizard stopped")
	}
}
