// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generate is the integration boundary between the scheduler and
// the generation endpoint (any OpenAI-compatible chat completion API).
//
// The Runner satisfies the scheduler's contract: it always resolves to a
// Result and never returns an error. Network failures, non-success
// statuses, empty responses, and schema violations all become Results with
// Success=false. The per-request timeout lives here, not in the scheduler.
package generate

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/matrixlab/services/matrix/unit"
)

var tracer = otel.Tracer("matrix.generate")

// Well-known dimension keys. The runner resolves a unit's request from
// whichever of these dimensions the pipeline defines; absent dimensions
// simply contribute nothing.
const (
	DimModel  = "model"
	DimSystem = "system"
	DimPrompt = "prompt"
	DimInput  = "input"
	DimSchema = "schema"
)

// InputPlaceholder is replaced in the prompt payload with the input-data
// variant's payload before the request is built.
const InputPlaceholder = "{{input}}"

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 120 * time.Second

// Config configures the Runner.
type Config struct {
	// BaseURL overrides the endpoint, e.g. a local server or a proxy.
	// Empty uses the OpenAI default.
	BaseURL string

	// APIKey authenticates against the endpoint.
	APIKey string

	// DefaultModel is used when a unit has no model dimension.
	DefaultModel string

	// Timeout bounds each generation call. Zero uses DefaultTimeout.
	Timeout time.Duration

	// RequestsPerSecond paces calls to the endpoint. Zero disables
	// pacing.
	RequestsPerSecond float64
}

// Runner executes generation calls for units.
type Runner struct {
	client       *openai.Client
	defaultModel string
	timeout      time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewRunner creates a runner for the configured endpoint. A nil logger
// uses slog.Default().
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = openai.GPT4oMini
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Runner{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: defaultModel,
		timeout:      timeout,
		limiter:      limiter,
		logger:       logger,
	}
}

// Run executes the generation call for one unit and resolves to a Result.
//
// The request is assembled from the unit's variant payloads: the model
// dimension names the model (payload first, display name as fallback), the
// system dimension supplies the system message, the prompt dimension the
// user message with {{input}} expanded from the input dimension, and a
// non-empty schema dimension requests and validates JSON output.
func (r *Runner) Run(ctx context.Context, u unit.Unit) unit.Result {
	ctx, span := tracer.Start(ctx, "generate.Run",
		trace.WithAttributes(attribute.String("unit", u.Name)))
	defer span.End()

	start := time.Now()
	fail := func(err string, validation bool) unit.Result {
		return unit.Result{
			Success:             false,
			Err:                 err,
			DurationSeconds:     time.Since(start).Seconds(),
			IsValidationFailure: validation,
		}
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return fail("rate limit wait: "+err.Error(), false)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := r.buildRequest(u)
	span.SetAttributes(attribute.String("model", req.Model))
	r.logger.Debug("dispatching generation call", "unit", u.Name, "model", req.Model)

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return fail(err.Error(), false)
	}
	if len(resp.Choices) == 0 {
		return fail("endpoint returned no choices", false)
	}

	content := resp.Choices[0].Message.Content
	usage := &unit.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	if schema := strings.TrimSpace(u.PayloadOn(DimSchema)); schema != "" {
		if !json.Valid([]byte(content)) {
			res := fail("response is not valid JSON for the requested schema", true)
			res.Usage = usage
			return res
		}
	}

	return unit.Result{
		Success:         true,
		Payload:         content,
		DurationSeconds: time.Since(start).Seconds(),
		Usage:           usage,
	}
}

func (r *Runner) buildRequest(u unit.Unit) openai.ChatCompletionRequest {
	model := strings.TrimSpace(u.PayloadOn(DimModel))
	if model == "" {
		if v, ok := u.VariantOn(DimModel); ok && v.Name != "" {
			model = v.Name
		} else {
			model = r.defaultModel
		}
	}

	prompt := u.PayloadOn(DimPrompt)
	if input := u.PayloadOn(DimInput); input != "" {
		prompt = strings.ReplaceAll(prompt, InputPlaceholder, input)
	}

	var messages []openai.ChatCompletionMessage
	if system := u.PayloadOn(DimSystem); system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if schema := strings.TrimSpace(u.PayloadOn(DimSchema)); schema != "" {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return req
}
