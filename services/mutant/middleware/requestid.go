// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the gin middleware of the mutant HTTP API.
//
//	Request
//	   │
//	   ▼
//	otelgin ──► RequestID ──► AccessLog ──► RateLimit (/api only) ──► Handler
package middleware

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/MutantDX/pkg/idgen"
	"github.com/AleutianAI/MutantDX/pkg/validation"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

const (
	// HeaderRequestID is read from and echoed on every response.
	HeaderRequestID = "X-Request-ID"

	requestIDKey = "mutantdx.request_id"
)

// RequestID assigns every request an ID.
//
// # Description
//
// A well-formed X-Request-ID header from the client is kept; otherwise a
// new ID is generated with gen (idgen.Default when nil). The ID is stored
// in the gin context and echoed in the response header.
func RequestID(gen idgen.Generator) gin.HandlerFunc {
	if gen == nil {
		gen = idgen.Default
	}
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if validation.ValidateRequestID(id) != nil {
			id = gen()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// GetRequestID returns the ID assigned by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// AccessLog writes one structured line per request.
func AccessLog(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", GetRequestID(c),
			"client_ip", c.ClientIP(),
		)
	}
}
