// Package ir defines the value types shared across the arbiter engine:
// actions, execution contexts, state changes, validation and execution
// outcomes, and the canonical JSON serialization used for journaling and
// golden-snapshot comparison.
//
// Everything in this package is plain data. Contexts are immutable views
// built per call; all mutation is expressed as StateChange records applied
// by the engine after a rule returns, never by rules reaching into shared
// memory directly.
package ir
