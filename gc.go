package blocksync

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// RemoveResult reports the outcome of a removal attempt.
type RemoveResult int

const (
	// Retained means the object is still held by other parents.
	Retained RemoveResult = iota
	// Deleted means the object's bytes were physically removed.
	Deleted
)

func (r RemoveResult) String() string {
	if r == Deleted {
		return "deleted"
	}
	return "retained"
}

// Collector implements refcount-gated deletion over the shared DAG.
// Deletion is strictly "decrement, then delete only at zero"; a
// subtree shared by two still-live parents survives every removal pass
// until the last holder lets go.
type Collector struct {
	store Store
	log   zerolog.Logger
}

func NewCollector(store Store, log zerolog.Logger) *Collector {
	return &Collector{store: store, log: log}
}

// FlatRemove releases one reference to id without descending into
// children. If the count drops to zero, or the object was never held,
// its bytes are deleted.
func (c *Collector) FlatRemove(id BlockID) (RemoveResult, error) {
	n, err := c.store.RefCount(id)
	if err != nil {
		return Retained, err
	}
	if n > 0 {
		if n, err = c.store.DecRef(id); err != nil {
			return Retained, err
		}
		if n > 0 {
			return Retained, nil
		}
	}
	c.log.Debug().Stringer("block", id).Msg("gc: delete object")
	if err := c.store.Delete(id); err != nil {
		return Retained, err
	}
	return Deleted, nil
}

// DeepRemove releases one reference to id and, if that was the last
// one, collects the subtree below it: children are released first
// (depth-first), then the object's own bytes are deleted.
//
// Each occurrence of a child in a tree releases one reference, matching
// the one-increment-per-recorded-edge rule used when trees are built;
// duplicate entries pointing at the same child are deliberately not
// deduplicated within a traversal. Recursion stops at any child whose
// count stays positive, which is what preserves subtrees shared with
// still-live parents regardless of call order.
//
// Removing an already-collected subtree is a no-op: an absent object
// reads as count zero and has no bytes left to delete. A decrement
// against a live count that was never matched by an increment still
// fails with ErrRefCountUnderflow inside the store.
func (c *Collector) DeepRemove(id BlockID) error {
	n, err := c.store.RefCount(id)
	if err != nil {
		return err
	}
	if n > 0 {
		if n, err = c.store.DecRef(id); err != nil {
			return err
		}
		if n > 0 {
			c.log.Debug().Stringer("block", id).Uint32("refcount", n).Msg("gc: retained")
			return nil
		}
	}

	// Last holder released. Collect children before the object itself.
	data, err := c.store.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	kind, tree, _, err := Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", id, err)
	}
	if kind == KindTree {
		for _, entry := range tree {
			if err := c.DeepRemove(entry.ID); err != nil {
				return err
			}
		}
	}

	c.log.Debug().Stringer("block", id).Msg("gc: delete object")
	return c.store.Delete(id)
}
