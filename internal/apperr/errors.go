// Package apperr holds the sentinel errors shared across leetlab packages.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidTag      = errors.New("invalid tag")
	ErrNoDefaultView   = errors.New("module has no default view")
	ErrNoScript        = errors.New("demo has no script")
	ErrUnknownFunction = errors.New("unknown function")
)
