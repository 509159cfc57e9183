package store

import (
	"errors"
	"fmt"

	"harvest/internal/models"
)

var (
	ErrNotFound  = fmt.Errorf("store: job not found: %w", models.ErrNotFound)
	ErrConflict  = fmt.Errorf("store: conflicting job state: %w", models.ErrConflict)
	ErrQueueFull = errors.New("store: dispatch queue is full")
	ErrClosed    = errors.New("store: dispatcher is closed")

	// ErrCorruptJob marks a stored row whose status disagrees with its
	// payload or completion time.
	ErrCorruptJob = errors.New("store: job row violates state invariants")
)
