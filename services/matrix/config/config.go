// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the YAML pipeline configuration:
// dimension lists, scheduler concurrency, snapshot storage, and the
// generation endpoint.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/matrixlab/services/matrix/thread"
)

// VariantConfig declares one variant of a dimension.
type VariantConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Payload string `yaml:"payload"`
	Hidden  bool   `yaml:"hidden"`
}

// DimensionConfig declares one dimension and its variants, in order.
type DimensionConfig struct {
	Key      string          `yaml:"key" validate:"required"`
	Label    string          `yaml:"label"`
	Variants []VariantConfig `yaml:"variants" validate:"dive"`
}

// EndpointConfig points at the generation endpoint.
type EndpointConfig struct {
	// BaseURL overrides the OpenAI default, e.g. for a local server.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// DefaultModel is used when no model dimension is configured.
	DefaultModel string `yaml:"default_model"`

	// TimeoutSeconds bounds each generation call.
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=0,lte=600"`

	// RequestsPerSecond paces calls; zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// Config is the full pipeline configuration.
type Config struct {
	// Namespace scopes snapshot keys; locks from different namespaces
	// never collide.
	Namespace string `yaml:"namespace" validate:"required"`

	// Concurrency is the scheduler batch size. Zero uses the default.
	Concurrency int `yaml:"concurrency" validate:"gte=0,lte=64"`

	// SnapshotDir is the directory for the durable lock store. Empty
	// keeps locks in memory for the session.
	SnapshotDir string `yaml:"snapshot_dir"`

	// Listen is the HTTP API address, e.g. ":8088".
	Listen string `yaml:"listen"`

	Endpoint EndpointConfig `yaml:"endpoint"`

	Dimensions []DimensionConfig `yaml:"dimensions" validate:"required,min=1,dive"`
}

var validate = validator.New()

// Load reads, parses, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8088"
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

// Timeout returns the endpoint timeout as a duration, zero when unset.
func (e EndpointConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// APIKey resolves the configured API key from the environment.
func (e EndpointConfig) APIKey() string {
	if e.APIKeyEnv == "" {
		return os.Getenv("OPENAI_API_KEY")
	}
	return os.Getenv(e.APIKeyEnv)
}

// ThreadLists converts the configured dimensions into stage thread lists,
// preserving declaration order. Every variant gets a fresh id; identity
// across reloads is carried by names, as everywhere else in the engine.
func (c *Config) ThreadLists() []thread.StageThreadList {
	lists := make([]thread.StageThreadList, len(c.Dimensions))
	for i, dim := range c.Dimensions {
		label := dim.Label
		if label == "" {
			label = dim.Key
		}
		list := thread.New(dim.Key, label)
		for _, vc := range dim.Variants {
			v := thread.NewVariant(vc.Name, vc.Payload)
			v.Visible = !vc.Hidden
			list.Append(v)
		}
		lists[i] = list
	}
	return lists
}
