package storage

import (
	"errors"

	"github.com/ashita-ai/kiroku/internal/sessionstore"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidArgument is returned for empty identity keys. It is the same
// value as sessionstore.ErrInvalidArgument so callers can match either.
var ErrInvalidArgument = sessionstore.ErrInvalidArgument
