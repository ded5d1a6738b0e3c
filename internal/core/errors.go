// Package core defines the fundamental types and errors for MarketPilot.
package core

import (
	"errors"
	"fmt"
)

// Errors shared across the engine. Callers wrap these with %w and match
// with errors.Is at the boundary.
var (
	// Classification errors
	ErrInvalidAction = errors.New("invalid action candidate")

	// Gate and lifecycle errors
	ErrInvalidTransition    = errors.New("invalid state transition")
	ErrActionNotFound       = errors.New("action not found")
	ErrExpertDecisionExists = errors.New("expert decision already recorded")

	// ErrActionImmutable is the terminal-state flavor of an invalid
	// transition: errors.Is(err, ErrInvalidTransition) also holds.
	ErrActionImmutable = fmt.Errorf("action is terminal and immutable: %w", ErrInvalidTransition)

	// Execution errors
	ErrAlreadyExecuting = errors.New("action is already executing")
	ErrExecutionFailed  = errors.New("action execution failed")

	// Decision errors
	ErrDecisionNotFound = errors.New("decision not found")
	ErrDecisionArchived = errors.New("decision is archived")
	ErrStepNotFound     = errors.New("step not found")
	ErrVersionConflict  = errors.New("decision modified concurrently")

	// Profile errors
	ErrProfileNotFound = errors.New("autonomy profile not found")
)
