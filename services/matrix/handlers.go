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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/matrixlab/services/matrix/thread"
)

// Handlers exposes the pipeline over HTTP for the grid UI. All semantics
// live in Pipeline; this layer only translates requests.
type Handlers struct {
	pipeline *Pipeline
}

// NewHandlers creates handlers for the given pipeline.
func NewHandlers(p *Pipeline) *Handlers {
	return &Handlers{pipeline: p}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleGrid returns the lock-aware unit rows, optionally sorted by
// ?sort=<dimension-key|status>.
func (h *Handlers) HandleGrid(c *gin.Context) {
	rows := h.pipeline.Grid(c.Query("sort"))
	c.JSON(http.StatusOK, gin.H{
		"request_id": getOrCreateRequestID(c),
		"busy":       h.pipeline.Busy(),
		"rows":       rows,
	})
}

// HandleDimensions returns the dimension lists in order.
func (h *Handlers) HandleDimensions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"dimensions": h.pipeline.Dimensions()})
}

type variantEdit struct {
	Name    *string `json:"name"`
	Payload *string `json:"payload"`
	Visible *bool   `json:"visible"`
}

// HandlePatchVariant edits a variant's name, payload, or visibility and
// regenerates the grid.
func (h *Handlers) HandlePatchVariant(c *gin.Context) {
	var edit variantEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dimKey := c.Param("key")
	variantID := c.Param("id")
	err := h.pipeline.EditDimension(dimKey, func(l *thread.StageThreadList) error {
		if edit.Name != nil {
			if err := l.Rename(variantID, *edit.Name); err != nil {
				return err
			}
		}
		if edit.Payload != nil {
			if err := l.SetPayload(variantID, *edit.Payload); err != nil {
				return err
			}
		}
		if edit.Visible != nil {
			if err := l.SetVisible(variantID, *edit.Visible); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

type variantCreate struct {
	Name    string `json:"name" binding:"required"`
	Payload string `json:"payload"`
}

// HandleAddVariant appends a variant to a dimension.
func (h *Handlers) HandleAddVariant(c *gin.Context) {
	var req variantCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v := thread.NewVariant(req.Name, req.Payload)
	err := h.pipeline.EditDimension(c.Param("key"), func(l *thread.StageThreadList) error {
		l.Append(v)
		return nil
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"variant": v})
}

// HandleRemoveVariant deletes a variant from a dimension.
func (h *Handlers) HandleRemoveVariant(c *gin.Context) {
	variantID := c.Param("id")
	err := h.pipeline.EditDimension(c.Param("key"), func(l *thread.StageThreadList) error {
		return l.Remove(variantID)
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// HandleRunAll triggers a full-grid run in the background. Rejected with
// 409 while a previous run is in flight; the scheduler itself does not
// guard against overlap.
func (h *Handlers) HandleRunAll(c *gin.Context) {
	if h.pipeline.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in flight"})
		return
	}
	go h.pipeline.RunAll(context.Background())
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// HandleRunUnit triggers a single-unit run in the background.
func (h *Handlers) HandleRunUnit(c *gin.Context) {
	if h.pipeline.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in flight"})
		return
	}
	id := c.Param("id")
	if _, ok := h.pipeline.UnitByID(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrUnitNotFound.Error()})
		return
	}
	go func() { _ = h.pipeline.RunUnit(context.Background(), id) }()
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

type runSelectedRequest struct {
	IDs []string `json:"ids"`

	// Dimension/Value select every unit carrying the named variant,
	// as an alternative to explicit ids.
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
}

// HandleRunSelected triggers a run for an explicit id list or for all
// units matching a dimension value.
func (h *Handlers) HandleRunSelected(c *gin.Context) {
	var req runSelectedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.pipeline.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in flight"})
		return
	}
	ids := req.IDs
	if len(ids) == 0 && req.Dimension != "" {
		ids = h.pipeline.SelectByDimensionValue(req.Dimension, req.Value)
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty selection"})
		return
	}
	go h.pipeline.RunSelected(context.Background(), ids)
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "selected": len(ids)})
}

// HandleLock freezes a unit's current result.
func (h *Handlers) HandleLock(c *gin.Context) {
	if err := h.pipeline.Lock(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "locked"})
}

// HandleUnlock releases a unit's snapshot.
func (h *Handlers) HandleUnlock(c *gin.Context) {
	if err := h.pipeline.Unlock(c.Param("id")); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unlocked"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUnitNotFound),
		errors.Is(err, ErrDimensionNotFound),
		errors.Is(err, thread.ErrVariantNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoResult):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// getOrCreateRequestID returns the X-Request-ID header, minting one when
// the caller did not supply it.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}
