//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package gemini implements the model.Generator contract on Google's
// Gemini API.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kestrel-research/kestrel/model"
)

const defaultModel = "gemini-2.0-flash"

// Option configures the generator.
type Option func(*Generator)

// WithModel overrides the model name.
func WithModel(name string) Option {
	return func(g *Generator) {
		g.name = name
	}
}

// WithClientConfig overrides the genai client configuration. The API key
// from New still applies unless the config sets its own.
func WithClientConfig(cfg *genai.ClientConfig) Option {
	return func(g *Generator) {
		g.clientConfig = cfg
	}
}

// Generator calls Gemini for text and structured generation.
type Generator struct {
	client       *genai.Client
	name         string
	clientConfig *genai.ClientConfig
}

var _ model.Generator = (*Generator)(nil)

// New creates a Gemini-backed generator.
func New(ctx context.Context, apiKey string, opts ...Option) (*Generator, error) {
	g := &Generator{name: defaultModel, clientConfig: &genai.ClientConfig{}}
	for _, opt := range opts {
		opt(g)
	}
	if g.clientConfig.APIKey == "" {
		g.clientConfig.APIKey = apiKey
	}
	client, err := genai.NewClient(ctx, g.clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	g.client = client
	return g, nil
}

// Generate implements model.Generator.
func (g *Generator) Generate(ctx context.Context, req model.Request) (string, error) {
	return g.generate(ctx, req, false)
}

// GenerateStructured implements model.Generator. The response is requested
// as JSON and decoded into out.
func (g *Generator) GenerateStructured(ctx context.Context, req model.Request, out any) error {
	text, err := g.generate(ctx, req, true)
	if err != nil {
		return err
	}
	return model.DecodeJSON(text, out)
}

func (g *Generator) generate(ctx context.Context, req model.Request, asJSON bool) (string, error) {
	config := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if asJSON {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.name, contents, config)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %v", model.ErrGenerationFailed, err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: gemini: empty response", model.ErrGenerationFailed)
	}
	return text, nil
}
