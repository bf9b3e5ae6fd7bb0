// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/AleutianAI/MutantDX/services/mutant/handlers"
	"github.com/AleutianAI/MutantDX/services/mutant/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures SetupRoutes.
type Options struct {
	MaxRows      int
	MaxBodyBytes int64
	RateLimit    middleware.RateLimitConfig

	// Gatherer backs /metrics. Nil omits the route.
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

func SetupRoutes(router *gin.Engine, svc handlers.Classifier, opts Options) {
	router.GET("/health", handlers.HealthCheck)
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api", middleware.RateLimit(opts.RateLimit))
	{
		api.POST("/mutant", handlers.HandleMutant(svc, handlers.MutantConfig{
			MaxRows:      opts.MaxRows,
			MaxBodyBytes: opts.MaxBodyBytes,
			Logger:       opts.Logger,
		}))
		api.GET("/stats", handlers.HandleStats(svc, opts.Logger))
	}
}
