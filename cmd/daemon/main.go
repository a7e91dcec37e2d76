// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command daemon runs the hm2g gateway: it keeps the outbound command
// channel to each configured CCU interface healthy and hosts the
// XML-RPC callback endpoint the CCU pushes events into.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManuGH/hm2g/internal/config"
	"github.com/ManuGH/hm2g/internal/daemon"
	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("hm2g", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML configuration file (optional, ENV-only without it)")
	checkOnly := fs.Bool("check", false, "load and validate the configuration, then exit")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Printf("hm2g %s (%s, %s)\n", version.Version, version.Commit, version.Date)
		return 0
	}

	// Load validates as part of resolution; a bad file or env value
	// never reaches the daemon.
	loader := config.NewLoader(*configPath, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hm2g: configuration load failed: %v\n", err)
		return 1
	}
	if *checkOnly {
		fmt.Println("configuration ok")
		return 0
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "hm2g",
		Version: version.Version,
	})
	logger := log.WithComponent("main")

	holder := config.NewHolder(cfg, loader)
	app, err := daemon.New(holder)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "main.bootstrap_failed").Msg("startup failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str(log.FieldEvent, "main.starting").
		Str("version", version.Version).
		Str("config", *configPath).
		Msg("starting hm2g")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "main.run_failed").Msg("daemon exited with error")
		return 1
	}
	return 0
}
