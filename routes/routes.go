// Copyright (C) 2025 Nekazari (dev@nekazari.eus)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nekazari/datahub-bff/config"
	"github.com/nekazari/datahub-bff/handlers"
	"github.com/nekazari/datahub-bff/middleware"
	"github.com/nekazari/datahub-bff/upstream"
)

func SetupRoutes(router *gin.Engine, cfg *config.Config, coord *upstream.Coordinator,
	uploaders handlers.UploaderFactory) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// DataHub API group
	api := router.Group("/api/datahub")
	api.Use(middleware.Tenant())
	{
		api.GET("/entities", handlers.ListEntities(cfg))
		api.GET("/timeseries/entities/:entityId/data", handlers.EntityData(cfg, coord.Resolver()))
		api.POST("/timeseries/align", handlers.Align(cfg, coord))
		api.POST("/export", handlers.Export(cfg, coord, uploaders))
		// Workspace persistence routes
		workspaces := api.Group("/workspaces")
		{
			workspaces.GET("", handlers.ListWorkspaces(cfg))
			workspaces.POST("", handlers.SaveWorkspace(cfg))
		}
	}
}
