// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package handlers implements the REST endpoints. Every response uses
// the {"failed": bool, ...} envelope with HTTP 200; only authentication
// rejections surface as a bare 401. Error messages are part of the wire
// contract consumed by the analyst-side plugins and must stay stable.
package handlers

import (
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Cisco-Talos/FIRST-server/services/core/engines"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
	"github.com/Cisco-Talos/FIRST-server/services/server/observability"
)

// Deps is the dependency set shared by all handlers.
type Deps struct {
	Store   *store.Store
	Manager *engines.Manager
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// fail answers the failed envelope. Always HTTP 200.
func fail(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"failed": true, "msg": msg})
}

// ok answers the success envelope with extra payload fields.
func ok(c *gin.Context, extra gin.H) {
	body := gin.H{"failed": false}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

var md5Pattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// sampleKey extracts and validates the md5/crc32 form pair every
// sample-scoped endpoint requires. A non-empty message means rejection.
func sampleKey(c *gin.Context) (string, int64, string) {
	md5, hasMD5 := c.GetPostForm("md5")
	crc, hasCRC := c.GetPostForm("crc32")
	if !hasMD5 || !hasCRC {
		return "", 0, "Sample info not provided"
	}

	md5 = strings.ToLower(md5)
	if !md5Pattern.MatchString(md5) {
		return "", 0, "MD5 is not valid"
	}

	crc32, err := strconv.ParseInt(crc, 10, 64)
	if err != nil {
		return "", 0, "CRC32 value is not an integer"
	}
	return md5, crc32, ""
}
