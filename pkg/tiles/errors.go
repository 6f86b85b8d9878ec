package tiles

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrTileNotFound   = errors.New("tile not found")
	ErrOffline        = errors.New("device offline")
	ErrInvalidTile    = errors.New("invalid tile coordinate")
	ErrEmptyTile      = errors.New("empty tile payload")
	ErrUpstreamStatus = errors.New("unexpected upstream status")
	ErrStoreClosed    = errors.New("tile store is closed")
)

// TileError provides structured error information for tile operations.
type TileError struct {
	Op      string     // Operation that failed (e.g., "download", "write")
	Tile    Coordinate // Tile involved (if any)
	HasTile bool
	Tier    Tier   // Tier involved (if any)
	Cause   error  // Underlying error
	Context string // Additional context
}

// Error implements the error interface.
func (e *TileError) Error() string {
	subject := e.Op
	if e.Tier != "" {
		subject += " " + string(e.Tier)
	}
	if e.HasTile {
		subject += " tile " + e.Tile.ID()
	}
	if e.Context != "" {
		return fmt.Sprintf("%s (%s): %v", subject, e.Context, e.Cause)
	}
	return fmt.Sprintf("%s: %v", subject, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *TileError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error's cause.
func (e *TileError) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder provides a fluent interface for building TileErrors.
type ErrorBuilder struct {
	err TileError
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: TileError{Op: op}}
}

// Tile sets the tile coordinate.
func (b *ErrorBuilder) Tile(c Coordinate) *ErrorBuilder {
	b.err.Tile = c
	b.err.HasTile = true
	return b
}

// Tier sets the tier.
func (b *ErrorBuilder) Tier(t Tier) *ErrorBuilder {
	b.err.Tier = t
	return b
}

// Context sets additional context information.
func (b *ErrorBuilder) Context(ctx string) *ErrorBuilder {
	b.err.Context = ctx
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// NotFoundError creates a tile-not-found error for a tier.
func NotFoundError(tier Tier, c Coordinate) error {
	return NewError("get").Tier(tier).Tile(c).Cause(ErrTileNotFound).Err()
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTileNotFound)
}
