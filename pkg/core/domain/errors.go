// Package domain holds the visit entity, filter criteria and shared sentinel
// errors. Callers match errors with errors.Is.
package domain

import "errors"

var (
	// write-path policy errors
	ErrValidation  = errors.New("validation error")
	ErrRateLimited = errors.New("rate limited")

	// storage errors
	ErrStorage  = errors.New("storage error")
	ErrNotFound = errors.New("not found")

	// filter produced an invalid query
	ErrQuery = errors.New("query error")
)
