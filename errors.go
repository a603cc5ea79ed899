package blocksync

import (
	"errors"

	"github.com/aweris/blocksync/internal/store"
)

var (
	// ErrNotFound is returned when an object is not present locally.
	// Absence is a normal outcome for reads, not a storage failure.
	ErrNotFound = store.ErrNotFound

	// ErrRefCountUnderflow is returned when a reference counter is
	// decremented below zero. This always indicates a missed increment
	// somewhere and is never tolerated silently.
	ErrRefCountUnderflow = store.ErrRefCountUnderflow

	// ErrNoRemote is returned by Push/Pull when no remote is configured.
	ErrNoRemote = errors.New("blocksync: no remote configured")
)
