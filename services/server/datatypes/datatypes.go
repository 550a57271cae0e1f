// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package datatypes defines the REST wire structures and their
// validation limits. Payloads arrive as form fields carrying JSON, so
// required-key checks use pointer fields with the validator rather than
// gin's body binding.
package datatypes

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/Cisco-Talos/FIRST-server/services/core/store"
)

// Batch and string ceilings enforced at the boundary.
const (
	MaxBatchFunctions = 20
	MaxBatchMetadata  = 20

	MaxArchitectureLen = 64
	MaxNameLen         = 128
	MaxPrototypeLen    = 256
	MaxCommentLen      = 512
	MaxAPILen          = 128
)

// APIPattern restricts imported api names to mangled-symbol characters.
var APIPattern = regexp.MustCompile(`^[A-Za-z0-9_:@?$.]+$`)

var validate = validator.New()

// FunctionUpload is one entry of the metadata_add batch. All fields but
// ID must be present in the JSON, empty strings included.
type FunctionUpload struct {
	ID           string    `json:"id"`
	Opcodes      *string   `json:"opcodes" validate:"required"`
	Architecture *string   `json:"architecture" validate:"required"`
	Name         *string   `json:"name" validate:"required"`
	Prototype    *string   `json:"prototype" validate:"required"`
	Comment      *string   `json:"comment" validate:"required"`
	APIs         *[]string `json:"apis" validate:"required"`
}

// HasRequiredKeys reports whether every mandatory key was present.
func (f *FunctionUpload) HasRequiredKeys() bool {
	return validate.Struct(f) == nil
}

// ScanFunction is one entry of the metadata_scan batch.
type ScanFunction struct {
	Opcodes      *string   `json:"opcodes" validate:"required"`
	Architecture *string   `json:"architecture" validate:"required"`
	APIs         *[]string `json:"apis" validate:"required"`
}

// HasRequiredKeys reports whether every mandatory key was present.
func (f *ScanFunction) HasRequiredKeys() bool {
	return validate.Struct(f) == nil
}

// ScanResults is the payload of a metadata_scan response.
type ScanResults struct {
	Engines map[string]string             `json:"engines"`
	Matches map[string][]store.Annotation `json:"matches"`
}
