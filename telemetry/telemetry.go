//
// Copyright (C) 2026 Kestrel Authors. All rights reserved.
//
// kestrel is licensed under the Apache License Version 2.0.
//

// Package telemetry exposes the tracer kestrel components use to annotate
// graph steps and fan-out batches. It resolves against the process-global
// OpenTelemetry provider, so it is a no-op unless the embedding application
// installs an SDK.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/kestrel-research/kestrel"

// Tracer returns the kestrel tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span with the given name and string attributes.
func StartSpan(ctx context.Context, name string, kv ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(kv...))
}

// String builds a string attribute. Convenience re-export so call sites
// outside this package do not import the attribute package directly.
func String(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Int builds an int attribute.
func Int(key string, value int) attribute.KeyValue {
	return attribute.Int(key, value)
}
