// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gin handlers of the mutant HTTP API.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/MutantDX/services/mutant/datatypes"
	"github.com/AleutianAI/MutantDX/services/mutant/detector"
	"github.com/AleutianAI/MutantDX/services/mutant/middleware"
	"github.com/AleutianAI/MutantDX/services/mutant/service"
	"github.com/AleutianAI/MutantDX/services/mutant/stats"
	"github.com/AleutianAI/MutantDX/services/mutant/storage"
	"github.com/gin-gonic/gin"
)

// DefaultMaxBodyBytes caps the POST /api/mutant body.
const DefaultMaxBodyBytes int64 = 2 << 20

// Classifier is the service surface the handlers need.
type Classifier interface {
	Submit(ctx context.Context, rows []string) (service.Outcome, error)
	Stats(ctx context.Context) (stats.Stats, error)
}

var _ Classifier = (*service.Service)(nil)

// MutantConfig bounds the accepted request.
type MutantConfig struct {
	// MaxRows is the largest grid accepted. <= 0 disables the limit.
	MaxRows int

	// MaxBodyBytes caps the request body. <= 0 uses DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Logger receives server-side failures. Default: slog.Default().
	Logger *slog.Logger
}

// HandleMutant handles POST /api/mutant.
//
// # Description
//
// Decodes and validates the body, then submits the grid:
//
//	new mutant                 → 200 MutantResponse
//	new human, already stored  → 403 ErrorResponse
//	bad JSON, bad grid         → 400 ErrorResponse
//	body too large             → 413 ErrorResponse
//	store unavailable          → 503 ErrorResponse
//	anything else              → 500 ErrorResponse
func HandleMutant(svc Classifier, cfg MutantConfig) gin.HandlerFunc {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cfg.MaxBodyBytes)

		var req datatypes.DnaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{Detail: "request body too large"})
				return
			}
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: "invalid JSON body"})
			return
		}
		if err := req.Validate(cfg.MaxRows); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Detail: err.Error()})
			return
		}

		outcome, err := svc.Submit(c.Request.Context(), req.DNA)
		if err != nil {
			writeError(c, logger, err)
			return
		}

		if outcome.Kind == service.OutcomeNewMutant {
			c.JSON(http.StatusOK, datatypes.MutantResponse{
				Status:   "mutant",
				RecordID: outcome.RecordID,
				Detail:   outcome.Detail(),
			})
			return
		}
		c.JSON(http.StatusForbidden, datatypes.ErrorResponse{Detail: outcome.Detail()})
	}
}

// HandleStats handles GET /api/stats.
func HandleStats(svc Classifier, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		s, err := svc.Stats(c.Request.Context())
		if err != nil {
			writeError(c, logger, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.NewStatsResponse(s))
	}
}

// HealthCheck handles GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, detector.ErrInvalidShape), errors.Is(err, detector.ErrInvalidAlphabet):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrStoreUnavailable), errors.Is(err, storage.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds to a failed service call. Server-side error text is
// logged, not returned.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status := StatusFor(err)
	if status == http.StatusBadRequest {
		c.JSON(status, datatypes.ErrorResponse{Detail: err.Error()})
		return
	}

	logger.ErrorContext(c.Request.Context(), "request failed",
		"path", c.FullPath(),
		"request_id", middleware.GetRequestID(c),
		"code", service.ErrorCode(err),
		"error", err,
	)
	detail := "internal error"
	if status == http.StatusServiceUnavailable {
		detail = "service unavailable, retry later"
	}
	c.JSON(status, datatypes.ErrorResponse{Detail: detail})
}
