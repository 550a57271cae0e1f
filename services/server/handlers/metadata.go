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
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Cisco-Talos/FIRST-server/services/core/engines"
	"github.com/Cisco-Talos/FIRST-server/services/core/idcodec"
	"github.com/Cisco-Talos/FIRST-server/services/core/store"
	"github.com/Cisco-Talos/FIRST-server/services/server/datatypes"
	"github.com/Cisco-Talos/FIRST-server/services/server/middleware"
)

// validateAPIs enforces the length and character-set limits on imported
// api names. A non-empty message means rejection.
func validateAPIs(apis []string) string {
	for _, api := range apis {
		if len(api) > datatypes.MaxAPILen {
			return fmt.Sprintf("API %s is longer than 128 bytes. "+
				"Report issue if this is a valid API", api)
		}
		if !datatypes.APIPattern.MatchString(api) {
			return "Invalid characters in API, supported characters " +
				"match the regex /^[a-zA-Z\\d_:@\\?\\$\\.]+$/. " +
				"Report issue if the submitted API is valid."
		}
	}
	return ""
}

// MetadataAdd ingests a batch of annotated functions for a checked-in
// sample: every function is stored, linked to the sample, annotated, and
// pushed through the engine pipeline. Engine-generated ids in the batch
// are skipped. Responds with client_id → public metadata id.
func MetadataAdd(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		observe := func(failed bool) { deps.Metrics.Observe("metadata_add", failed) }

		md5, crc32, msg := sampleKey(c)
		if msg != "" {
			fail(c, msg)
			observe(true)
			return
		}

		raw, has := c.GetPostForm("functions")
		if !has || raw == "" {
			fail(c, "All required data was not provided")
			observe(true)
			return
		}

		var functions map[string]datatypes.FunctionUpload
		if err := json.Unmarshal([]byte(raw), &functions); err != nil {
			fail(c, "Invalid json object")
			observe(true)
			return
		}
		if len(functions) > datatypes.MaxBatchFunctions {
			fail(c, "Invalid function list")
			observe(true)
			return
		}

		// Validate the whole batch before touching storage.
		opcodes := make(map[string][]byte, len(functions))
		for clientID, f := range functions {
			if !f.HasRequiredKeys() {
				fail(c, "Invalid function list")
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

			for field, limit := range map[string]int{
				"architecture": datatypes.MaxArchitectureLen,
				"name":         datatypes.MaxNameLen,
				"prototype":    datatypes.MaxPrototypeLen,
				"comment":      datatypes.MaxCommentLen,
			} {
				var value string
				switch field {
				case "architecture":
					value = *f.Architecture
				case "name":
					value = *f.Name
				case "prototype":
					value = *f.Prototype
				case "comment":
					value = *f.Comment
				}
				if len(value) > limit {
					fail(c, fmt.Sprintf(
						"Data for %q exceeds the maximum length (%d)", field, limit))
					observe(true)
					return
				}
			}

			if msg := validateAPIs(*f.APIs); msg != "" {
				fail(c, msg)
				observe(true)
				return
			}
		}

		ctx := c.Request.Context()
		user := middleware.CurrentUser(c)

		sample, err := deps.Store.GetSample(ctx, md5, crc32, false)
		if errors.Is(err, store.ErrNotFound) {
			fail(c, "Sample does not exist in FIRST")
			observe(true)
			return
		}
		if err != nil {
			fail(c, "Unable to connect to FIRST DB")
			observe(true)
			return
		}
		if err := deps.Store.MarkSampleSeen(ctx, sample, user); err != nil {
			fail(c, "Unable to connect to FIRST DB")
			observe(true)
			return
		}

		results := make(map[string]string)
		for clientID, f := range functions {
			// Annotations round-tripped from engine results are not
			// user edits; nothing to store.
			if f.ID != "" && idcodec.IsEngine(f.ID) {
				continue
			}

			function, err := deps.Store.GetFunction(ctx, opcodes[clientID], *f.Architecture, *f.APIs, true)
			if err != nil {
				fail(c, "Function does not exist in FIRST")
				observe(true)
				return
			}
			if err := deps.Store.AddFunctionToSample(ctx, sample, function); err != nil {
				fail(c, "Unable to associate function with sample in FIRST")
				observe(true)
				return
			}

			metadataID, err := deps.Store.AddMetadataToFunction(ctx, user, function,
				*f.Name, *f.Prototype, *f.Comment)
			if err != nil {
				fail(c, "Unable to associate metadata with function in FIRST")
				observe(true)
				return
			}

			publicID := idcodec.EncodeUser(uint64(metadataID))
			results[clientID] = publicID

			// The author counts as the first applier.
			if _, err := deps.Store.Applied(ctx, sample, user, publicID); err != nil {
				deps.logger().Error("auto-apply failed",
					slog.String("id", publicID), slog.String("error", err.Error()))
			}

			deps.Manager.Add(ctx, &engines.FunctionDump{
				ID:           function.ID,
				SHA256:       function.SHA256,
				Opcodes:      opcodes[clientID],
				Architecture: *f.Architecture,
				APIs:         *f.APIs,
			})
			deps.Metrics.FunctionsIndexedTotal.Inc()
		}

		ok(c, gin.H{"results": results})
		observe(false)
	}
}

// metadataIDBatch parses a form field carrying a JSON list of public
// metadata ids. A non-empty message means rejection.
func metadataIDBatch(c *gin.Context, field, missingMsg, invalidMsg string) ([]string, string) {
	raw, has := c.GetPostForm(field)
	if !has || raw == "" {
		return nil, missingMsg
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, "Invalid json object"
	}
	if len(ids) > datatypes.MaxBatchMetadata {
		return nil, invalidMsg
	}
	for _, id := range ids {
		if !idcodec.Valid(id) {
			return nil, invalidMsg
		}
	}
	return ids, ""
}

// MetadataGet resolves a batch of public ids to their latest annotation
// dumps, keyed by id.
func MetadataGet(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, msg := metadataIDBatch(c, "metadata",
			"Invalid metadata information", "Invalid id value")
		if msg != "" {
			fail(c, msg)
			deps.Metrics.Observe("metadata_get", true)
			return
		}

		annotations, err := deps.Store.GetMetadataList(c.Request.Context(), ids)
		if err != nil {
			fail(c, "Unable to connect to FIRST DB")
			deps.Metrics.Observe("metadata_get", true)
			return
		}

		results := make(map[string]store.Annotation, len(annotations))
		for _, ann := range annotations {
			results[ann.ID] = ann
		}
		ok(c, gin.H{"results": results})
		deps.Metrics.Observe("metadata_get", false)
	}
}

// MetadataHistory returns the ordered revision history for a batch of
// public ids.
func MetadataHistory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, msg := metadataIDBatch(c, "metadata",
			"Invalid metadata information", "Invalid metadata id")
		if msg != "" {
			fail(c, msg)
			deps.Metrics.Observe("metadata_history", true)
			return
		}

		results, err := deps.Store.MetadataHistory(c.Request.Context(), ids)
		if err != nil {
			fail(c, "Unable to connect to FIRST DB")
			deps.Metrics.Observe("metadata_history", true)
			return
		}
		ok(c, gin.H{"results": results})
		deps.Metrics.Observe("metadata_history", false)
	}
}

// MetadataApplied marks an annotation as applied by the calling user
// while analysing the given sample; MetadataUnapplied reverses it. Both
// are idempotent.
func MetadataApplied(deps *Deps) gin.HandlerFunc {
	return statusChange(deps, "metadata_applied", true)
}

// MetadataUnapplied removes the apply record for the calling user.
func MetadataUnapplied(deps *Deps) gin.HandlerFunc {
	return statusChange(deps, "metadata_unapplied", false)
}

func statusChange(deps *Deps, endpoint string, applied bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		md5, crc32, msg := sampleKey(c)
		if msg != "" {
			fail(c, msg)
			deps.Metrics.Observe(endpoint, true)
			return
		}

		id, has := c.GetPostForm("id")
		if !has || id == "" {
			fail(c, "Invalid metadata information")
			deps.Metrics.Observe(endpoint, true)
			return
		}
		if !idcodec.Valid(id) {
			fail(c, "Invalid id value")
			deps.Metrics.Observe(endpoint, true)
			return
		}

		ctx := c.Request.Context()
		sample, err := deps.Store.GetSample(ctx, md5, crc32, false)
		if errors.Is(err, store.ErrNotFound) {
			fail(c, "Sample does not exist in FIRST")
			deps.Metrics.Observe(endpoint, true)
			return
		}
		if err != nil {
			fail(c, "Unable to connect to FIRST DB")
			deps.Metrics.Observe(endpoint, true)
			return
		}

		user := middleware.CurrentUser(c)
		var result bool
		if applied {
			result, err = deps.Store.Applied(ctx, sample, user, id)
		} else {
			result, err = deps.Store.Unapplied(ctx, sample, user, id)
		}
		if err != nil {
			fail(c, "Unable to connect to FIRST DB")
			deps.Metrics.Observe(endpoint, true)
			return
		}
		ok(c, gin.H{"results": result})
		deps.Metrics.Observe(endpoint, false)
	}
}

// MetadataDelete removes an annotation record owned by the calling user,
// with all its history and apply records.
func MetadataDelete(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !idcodec.Valid(id) {
			fail(c, "Invalid id value")
			deps.Metrics.Observe("metadata_delete", true)
			return
		}

		deleted, err := deps.Store.DeleteMetadata(c.Request.Context(),
			middleware.CurrentUser(c), id)
		if err != nil {
			fail(c, "Unable to connect to FIRST DB")
			deps.Metrics.Observe("metadata_delete", true)
			return
		}
		ok(c, gin.H{"deleted": deleted})
		deps.Metrics.Observe("metadata_delete", false)
	}
}

// MetadataCreated pages through the annotations the calling user has
// submitted, twenty per page.
func MetadataCreated(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := 1
		if raw := c.Param("page"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				fail(c, "Invalid page value")
				deps.Metrics.Observe("metadata_created", true)
				return
			}
			page = parsed
		}

		annotations, pages, err := deps.Store.Created(c.Request.Context(),
			middleware.CurrentUser(c), page, datatypes.MaxBatchMetadata)
		if err != nil {
			fail(c, "Unable to connect to FIRST DB")
			deps.Metrics.Observe("metadata_created", true)
			return
		}
		if annotations == nil {
			annotations = []store.Annotation{}
		}
		ok(c, gin.H{"page": page, "pages": pages, "results": annotations})
		deps.Metrics.Observe("metadata_created", false)
	}
}
