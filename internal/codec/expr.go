// Package codec implements the schema evaluation primitives that sit
// between the frame parser and the typed device layer: matching a
// packet against a declarative config.StateSchema, extracting a typed
// value from it, and constructing an outbound payload from a
// config.CommandSchema.
package codec

import "context"

// Evaluator is the sandboxed expression capability guard/lambda/action
// scripts are evaluated through. The core
// packages depend only on this interface — never on a concrete
// scripting engine — so the evaluator stays swappable, same as the
// transport and broker collaborators.
type Evaluator interface {
	// Evaluate runs script with the given bindings and returns its
	// result. safe selects a wall-clock cap for user-authored
	// lambdas/guards/action expressions; internal schemas the operator
	// trusts (checksum helpers) may run untimed.
	Evaluate(ctx context.Context, script string, bindings map[string]any, safe bool) (any, error)
}

// Bindings is a reusable context buffer: callers on
// a hot path (packet trigger evaluation) fill the same map repeatedly
// instead of allocating one per invocation.
type Bindings map[string]any
