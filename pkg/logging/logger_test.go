// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLevelString verifies level names.
func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

// TestExporterReceivesEntries verifies entries reach the exporter with
// message, level, service, and attributes intact.
func TestExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "test-service",
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Info("grid regenerated", "units", 6)
	logger.Error("run failed", "unit", "gpt-4o × p1")

	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 2
	}, 2*time.Second, 10*time.Millisecond, "export is async")

	entries := exporter.Entries()
	assert.Equal(t, "grid regenerated", entries[0].Message)
	assert.Equal(t, LevelInfo, entries[0].Level)
	assert.Equal(t, "test-service", entries[0].Service)
	assert.Equal(t, 6, entries[0].Attrs["units"])

	assert.Equal(t, LevelError, entries[1].Level)
	assert.Equal(t, "gpt-4o × p1", entries[1].Attrs["unit"])
}

// TestExporterRespectsLevel verifies entries below the configured level
// are never exported.
func TestExporterRespectsLevel(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelWarn,
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Debug("too low")
	logger.Info("still too low")
	logger.Warn("just right")

	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "just right", exporter.Entries()[0].Message)
}

// TestFileLogging verifies JSON file output lands in {service}_{date}.log.
func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "matrixlab",
		Quiet:   true,
	})

	logger.Info("snapshot locked", "key", "ns::a")
	require.NoError(t, logger.Close())

	name := "matrixlab_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "snapshot locked", record["msg"])
	assert.Equal(t, "ns::a", record["key"])
	assert.Equal(t, "matrixlab", record["service"])
}

// TestWith verifies child loggers carry attributes and share the exporter.
func TestWith(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Level: LevelInfo, Quiet: true, Exporter: exporter})
	defer logger.Close()

	child := logger.With("component", "scheduler")
	child.Info("batch complete")

	require.Eventually(t, func() bool {
		return len(exporter.Entries()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestArgsToMap verifies attribute extraction tolerates odd arg counts and
// non-string keys.
func TestArgsToMap(t *testing.T) {
	m := argsToMap([]any{"a", 1, "b", "two"})
	assert.Equal(t, map[string]any{"a": 1, "b": "two"}, m)

	assert.Empty(t, argsToMap(nil))
	assert.Empty(t, argsToMap([]any{"dangling"}))
	assert.Equal(t, map[string]any{"b": 2}, argsToMap([]any{42, "skipped", "b", 2}))
}

// TestDefaultLogger verifies Default is usable without configuration.
func TestDefaultLogger(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger.Slog())
	logger.Info("default logger works")
	require.NoError(t, logger.Close())
}
