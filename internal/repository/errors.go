// Package repository holds the storage errors shared by every store implementation.
package repository

import "errors"

var (
	// ErrNotFound means the row does not exist or is not in a state the operation applies to
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness or exclusivity constraint rejected the write
	ErrConflict = errors.New("conflict")
)
