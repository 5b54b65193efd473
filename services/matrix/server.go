// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matrix

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server hosts the pipeline HTTP API.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the router for the given pipeline.
func NewServer(p *Pipeline, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	h := NewHandlers(p)
	engine.GET("/healthz", h.HandleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	{
		api.GET("/grid", h.HandleGrid)
		api.GET("/dimensions", h.HandleDimensions)
		api.POST("/dimensions/:key/variants", h.HandleAddVariant)
		api.PATCH("/dimensions/:key/variants/:id", h.HandlePatchVariant)
		api.DELETE("/dimensions/:key/variants/:id", h.HandleRemoveVariant)
		api.POST("/run/all", h.HandleRunAll)
		api.POST("/run/selected", h.HandleRunSelected)
		api.POST("/run/units/:id", h.HandleRunUnit)
		api.POST("/locks/:id", h.HandleLock)
		api.DELETE("/locks/:id", h.HandleUnlock)
	}

	return &Server{
		engine: engine,
		http:   &http.Server{Addr: addr, Handler: engine, ReadHeaderTimeout: 10 * time.Second},
		logger: logger,
	}
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("matrix API listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
