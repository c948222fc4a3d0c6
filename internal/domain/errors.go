// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the request collides with one already known or in progress.
var ErrConflict = errors.New("conflict")

// ErrValidation marks a malformed caller input. Wrap it as
// fmt.Errorf("%w: detail", ErrValidation) so the detail can be surfaced.
var ErrValidation = errors.New("validation")

// ErrInvalidStateTransition indicates an operation that the current
// escalation state does not permit, such as resolving twice.
var ErrInvalidStateTransition = errors.New("invalid state transition")
