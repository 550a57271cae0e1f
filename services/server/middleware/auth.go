// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package middleware carries the gin middleware of the REST facade.
package middleware

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

// UserKey is the gin context key the authenticated user is stored under.
const UserKey = "user"

var apiKeyPattern = regexp.MustCompile(
	`^[a-fA-F0-9]{8}-(?:[a-fA-F0-9]{4}-){3}[a-fA-F0-9]{12}$`)

// APIKeyAuth resolves the :apikey path segment to an active user and
// stores it in the request context. Malformed, unknown and disabled keys
// all answer 401 with no body.
func APIKeyAuth(s *store.Store, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("apikey")
		if !apiKeyPattern.MatchString(key) {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		user, err := s.UserByAPIKey(c.Request.Context(), strings.ToLower(key))
		if err != nil {
			if logger != nil {
				logger.Debug("rejected api key", slog.String("path", c.FullPath()))
			}
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(UserKey, user)
		c.Next()
	}
}

// CurrentUser fetches the authenticated user set by APIKeyAuth.
func CurrentUser(c *gin.Context) *store.User {
	if v, ok := c.Get(UserKey); ok {
		if user, ok := v.(*store.User); ok {
			return user
		}
	}
	return nil
}
