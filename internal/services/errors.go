package services

import "errors"

var (
	// ErrNotConfigured means a collaborator the pipeline needs is missing.
	ErrNotConfigured = errors.New("chat pipeline not configured")
	ErrInvalidInput  = errors.New("invalid input")
)
