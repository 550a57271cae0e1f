// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Cisco-Talos/FIRST-server/services/server/handlers"
	"github.com/Cisco-Talos/FIRST-server/services/server/middleware"
)

// SetupRoutes wires the REST surface. The api key rides in the URL path
// on every authenticated endpoint, matching the analyst-side plugins.
func SetupRoutes(router *gin.Engine, deps *handlers.Deps) {
	router.GET("/health", handlers.Health())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := middleware.APIKeyAuth(deps.Store, deps.Logger)

	api := router.Group("/api")
	{
		api.GET("/test_connection/:apikey", auth, handlers.TestConnection())

		sample := api.Group("/sample")
		{
			sample.GET("/architectures/:apikey", auth, handlers.Architectures(deps))
			sample.POST("/checkin/:apikey", auth, handlers.Checkin(deps))
		}

		metadata := api.Group("/metadata")
		{
			metadata.POST("/add/:apikey", auth, handlers.MetadataAdd(deps))
			metadata.POST("/get/:apikey", auth, handlers.MetadataGet(deps))
			metadata.POST("/history/:apikey", auth, handlers.MetadataHistory(deps))
			metadata.POST("/applied/:apikey", auth, handlers.MetadataApplied(deps))
			metadata.POST("/unapplied/:apikey", auth, handlers.MetadataUnapplied(deps))
			metadata.GET("/delete/:apikey/:id", auth, handlers.MetadataDelete(deps))
			metadata.GET("/created/:apikey", auth, handlers.MetadataCreated(deps))
			metadata.GET("/created/:apikey/:page", auth, handlers.MetadataCreated(deps))
			metadata.POST("/scan/:apikey", auth, handlers.MetadataScan(deps))
		}
	}
}
