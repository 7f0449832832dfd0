// Package storage holds errors shared by the persistence adapters.
package storage

import "errors"

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("not found")
