// Package memory provides an in-process pubsub broker for single-node
// deployments and tests.
package memory

import "errors"

var (
	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrPatternMismatch is returned when a consumer joins a group that
	// listens on another subject pattern.
	ErrPatternMismatch = errors.New("consumer group already listens on another pattern")
)
