// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Cisco-Talos/FIRST-server/services/server/middleware"
)

// TestConnection answers the plugin's reachability probe.
func TestConnection() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "connected"})
	}
}

// Architectures lists every architecture tag in storage merged with the
// standard set.
func Architectures(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		archs, err := deps.Store.Architectures(c.Request.Context())
		if err != nil {
			deps.logger().Error("architectures query failed", slog.String("error", err.Error()))
			fail(c, "Unable to connect to FIRST DB")
			deps.Metrics.Observe("architectures", true)
			return
		}
		ok(c, gin.H{"architectures": archs})
		deps.Metrics.Observe("architectures", false)
	}
}

// Checkin registers (or refreshes) a sample sighting for the calling
// user. Optional sha1/sha256 fields are stored when they validate and
// dropped silently otherwise.
func Checkin(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		md5, crc32, msg := sampleKey(c)
		if msg != "" {
			fail(c, msg)
			deps.Metrics.Observe("checkin", true)
			return
		}

		user := middleware.CurrentUser(c)
		sha1 := strings.ToLower(c.PostForm("sha1"))
		sha256 := strings.ToLower(c.PostForm("sha256"))

		if err := deps.Store.Checkin(c.Request.Context(), user, md5, crc32, sha1, sha256); err != nil {
			deps.logger().Error("checkin failed",
				slog.String("md5", md5), slog.String("error", err.Error()))
			fail(c, "Unable to connect to FIRST DB")
			deps.Metrics.Observe("checkin", true)
			return
		}
		ok(c, gin.H{"checkin": true})
		deps.Metrics.Observe("checkin", false)
	}
}

// Health reports process liveness for container orchestration.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	}
}
