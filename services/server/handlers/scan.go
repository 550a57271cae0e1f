// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package handlers

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cisco-Talos/FIRST-server/services/core/store"
	"github.com/Cisco-Talos/FIRST-server/services/server/datatypes"
)

// MetadataScan runs the similarity pipeline over a batch of unknown
// functions and returns the best annotation candidates per entry,
// together with a description of every engine that contributed.
func MetadataScan(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		observe := func(failed bool) { deps.Metrics.Observe("metadata_scan", failed) }

		raw, has := c.GetPostForm("functions")
		if !has || raw == "" {
			fail(c, "Invalid function information")
			observe(true)
			return
		}

		var functions map[string]datatypes.ScanFunction
		if err := json.Unmarshal([]byte(raw), &functions); err != nil {
			fail(c, "Invalid json object")
			observe(true)
			return
		}
		if len(functions) > datatypes.MaxBatchFunctions {
			fail(c, "Invalid function json")
			observe(true)
			return
		}

		opcodes := make(map[string][]byte, len(functions))
		for clientID, f := range functions {
			if !f.HasRequiredKeys() {
				fail(c, "Function details not provided")
				observe(true)
				return
			}
			if len(*f.Architecture) > datatypes.MaxArchitectureLen {
				fail(c, "Invalid architecture")
				observe(true)
				return
			}
			if msg := validateAPIs(*f.APIs); msg != "" {
				fail(c, msg)
				observe(true)
				return
			}

			decoded, err := base64.StdEncoding.DecodeString(*f.Opcodes)
			if err != nil {
				fail(c, "Unable to decode opcodes")
				observe(true)
				return
			}
			opcodes[clientID] = decoded
		}

		ctx := c.Request.Context()
		data := datatypes.ScanResults{
			Engines: make(map[string]string),
			Matches: make(map[string][]store.Annotation),
		}
		for clientID, f := range functions {
			start := time.Now()
			annotations, engineInfo, err := deps.Manager.Scan(ctx,
				opcodes[clientID], *f.Architecture, *f.APIs)
			deps.Metrics.ScanDurationSeconds.Observe(time.Since(start).Seconds())
			if err != nil {
				deps.logger().Error("scan failed",
					slog.String("client_id", clientID), slog.String("error", err.Error()))
				fail(c, "Unable to connect to FIRST DB")
				observe(true)
				return
			}
			if len(annotations) == 0 {
				continue
			}

			for name, description := range engineInfo {
				data.Engines[name] = description
				deps.Metrics.EngineHitsTotal.WithLabelValues(name).Inc()
			}
			data.Matches[clientID] = annotations
		}

		ok(c, gin.H{"results": data})
		observe(false)
	}
}
