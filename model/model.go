//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package model defines the text-generation capability consumed by workflow
// nodes, with provider implementations in subpackages.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrGenerationFailed is the generic failure surfaced to nodes. Provider
// errors wrap it so callers can branch without knowing the provider.
var ErrGenerationFailed = errors.New("generation failed")

// Request describes a single generation call.
type Request struct {
	Prompt            string
	SystemInstruction string
	// Temperature overrides the provider default when non-nil.
	Temperature *float64
	// MaxTokens caps the completion length when non-nil.
	MaxTokens *int
}

// Generator is the capability contract nodes call for text generation.
type Generator interface {
	// Generate produces free text for the prompt.
	Generate(ctx context.Context, req Request) (string, error)
	// GenerateStructured produces a JSON value for the prompt and decodes
	// it into out.
	GenerateStructured(ctx context.Context, req Request, out any) error
}

// DecodeJSON decodes a model response into out, tolerating markdown code
// fences around the JSON payload.
func DecodeJSON(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return fmt.Errorf("%w: decode structured response: %v", ErrGenerationFailed, err)
	}
	return nil
}
