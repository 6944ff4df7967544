// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates caller input that fails validation before any work starts.
var ErrValidation = errors.New("validation failed")

// ErrInvalidArguments indicates a tool-call argument payload that is not
// parseable JSON. It is folded into tool outputs, never surfaced to callers.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// ErrUnavailable indicates a required capability is not configured.
var ErrUnavailable = errors.New("service unavailable")

// ErrUpstream indicates the external conversation runtime reported a failure.
var ErrUpstream = errors.New("upstream runtime failure")
