// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/matrixlab/pkg/logging"
	matrix "github.com/AleutianAI/matrixlab/services/matrix"
	"github.com/AleutianAI/matrixlab/services/matrix/config"
	"github.com/AleutianAI/matrixlab/services/matrix/generate"
	"github.com/AleutianAI/matrixlab/services/matrix/schedule"
	"github.com/AleutianAI/matrixlab/services/matrix/snapshot"
	"github.com/AleutianAI/matrixlab/services/matrix/storage/badger"
)

var (
	configPath string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "matrixlab",
		Short: "Explore a matrix of LLM invocation parameters",
		Long: `matrixlab derives the cartesian product of your parameter variants
(model, system prompt, prompt, input data, schema), runs every visible
combination against a generation endpoint with bounded concurrency, and
lets you lock any result into a durable snapshot.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline HTTP API for the grid UI",
		RunE:  runServe,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run every visible combination once and print a summary",
		RunE:  runOnce,
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "matrixlab.yaml", "pipeline configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(serveCmd, runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *logging.Logger {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.New(logging.Config{Level: level, Service: "matrixlab"})
}

// buildPipeline wires the engine from configuration. The returned cleanup
// closes the snapshot database, if any.
func buildPipeline(cfg *config.Config, logger *logging.Logger) (*matrix.Pipeline, func(), error) {
	slogger := logger.Slog()

	var medium snapshot.Medium
	cleanup := func() {}
	if cfg.SnapshotDir != "" {
		dbCfg := badger.DefaultConfig()
		dbCfg.Path = cfg.SnapshotDir
		db, err := badger.Open(dbCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot store: %w", err)
		}
		medium = snapshot.NewBadgerMedium(db)
		cleanup = func() { _ = db.Close() }
	} else {
		logger.Warn("no snapshot_dir configured, locks will not survive this session")
		medium = snapshot.NewMapMedium()
	}

	store := snapshot.New(medium, slogger)
	sched := schedule.New(cfg.Concurrency, slogger)
	runner := generate.NewRunner(generate.Config{
		BaseURL:           cfg.Endpoint.BaseURL,
		APIKey:            cfg.Endpoint.APIKey(),
		DefaultModel:      cfg.Endpoint.DefaultModel,
		Timeout:           cfg.Endpoint.Timeout(),
		RequestsPerSecond: cfg.Endpoint.RequestsPerSecond,
	}, slogger)

	p := matrix.NewPipeline(cfg.Namespace, cfg.ThreadLists(), store, sched, runner.Run, slogger)
	return p, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	pipeline, cleanup, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Hot-reload dimension edits from the config file; identity carries
	// over by name, so locked results keep working across reloads.
	go func() {
		err := config.Watch(ctx, configPath, logger.Slog(), func(next *config.Config) {
			pipeline.SetDimensions(next.ThreadLists())
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	server := matrix.NewServer(pipeline, cfg.Listen, logger.Slog())
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	return server.ListenAndServe()
}

func runOnce(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	pipeline, cleanup, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline.RunAll(ctx)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMBINATION\tSTATUS\tDURATION\tTOKENS")
	failures := 0
	for _, row := range pipeline.Grid("") {
		status := "not run"
		duration := "-"
		tokens := "-"
		if res := row.Effective; res != nil {
			duration = fmt.Sprintf("%.1fs", res.DurationSeconds)
			switch {
			case res.Success:
				status = "ok"
			case res.IsValidationFailure:
				status = "invalid output"
				failures++
			default:
				status = "error: " + res.Err
				failures++
			}
			if res.Usage != nil {
				tokens = fmt.Sprintf("%d", res.Usage.TotalTokens)
			}
		}
		if row.Locked {
			status += " (locked)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.Unit.Name, status, duration, tokens)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failures > 0 {
		return fmt.Errorf("%d combination(s) failed", failures)
	}
	return nil
}
