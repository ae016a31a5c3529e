//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package openai implements the model.Generator contract on the OpenAI
// chat completions API. Compatible endpoints work through WithBaseURL.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/kestrel-research/kestrel/model"
)

const defaultModel = "gpt-4o-mini"

// Option configures the generator.
type Option func(*Generator)

// WithModel overrides the model name.
func WithModel(name string) Option {
	return func(g *Generator) {
		g.name = name
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(g *Generator) {
		g.baseURL = url
	}
}

// Generator calls the chat completions API for text and structured
// generation.
type Generator struct {
	client  openai.Client
	name    string
	baseURL string
}

var _ model.Generator = (*Generator)(nil)

// New creates an OpenAI-backed generator.
func New(apiKey string, opts ...Option) *Generator {
	g := &Generator{name: defaultModel}
	for _, opt := range opts {
		opt(g)
	}
	clientOpts := []openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}
	if g.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(g.baseURL))
	}
	g.client = openai.NewClient(clientOpts...)
	return g
}

// Generate implements model.Generator.
func (g *Generator) Generate(ctx context.Context, req model.Request) (string, error) {
	return g.generate(ctx, req, false)
}

// GenerateStructured implements model.Generator using JSON response mode.
func (g *Generator) GenerateStructured(ctx context.Context, req model.Request, out any) error {
	text, err := g.generate(ctx, req, true)
	if err != nil {
		return err
	}
	return model.DecodeJSON(text, out)
}

func (g *Generator) generate(ctx context.Context, req model.Request, asJSON bool) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.name),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	if asJSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", model.ErrGenerationFailed, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: openai: empty response", model.ErrGenerationFailed)
	}
	return completion.Choices[0].Message.Content, nil
}
