package blocksync

import "context"

// Store is the content-addressed storage the sync core runs against.
// Object bytes and reference counters are independent records: the
// counter tracks physical holders (parent objects pointing at an id)
// and exists if and only if its value is positive.
type Store interface {
	// Get retrieves an object's encoded bytes. Absence is ErrNotFound.
	Get(id BlockID) ([]byte, error)

	// Put stores encoded bytes and returns the content digest.
	// Storing an already-present object is a no-op.
	Put(data []byte) (BlockID, error)

	// Has checks physical presence.
	Has(id BlockID) (bool, error)

	// Delete removes an object's bytes. Deleting an absent id is a no-op.
	Delete(id BlockID) error

	// RefCount reads the persisted counter; absence reads as zero.
	RefCount(id BlockID) (uint32, error)

	// IncRef creates the counter at one if absent, else adds one.
	IncRef(id BlockID) (uint32, error)

	// DecRef subtracts one, deleting the counter record at zero.
	// Decrementing an absent or zero counter is ErrRefCountUnderflow.
	DecRef(id BlockID) (uint32, error)

	// Objects enumerates every locally stored object id.
	Objects() ([]BlockID, error)

	// GetRef resolves a named ref to a block id. Absence is ErrNotFound.
	GetRef(name string) (BlockID, error)

	// PutRef installs or overwrites a named ref.
	PutRef(name string, id BlockID) error
}

// Remote exchanges encoded objects plus an index snapshot with a peer
// rendezvous point. The wire protocol behind it is deliberately opaque
// to this core. Object keys are hex block digests.
type Remote interface {
	Push(ctx context.Context, index []byte, objects map[string][]byte) error
	Pull(ctx context.Context) (index []byte, objects map[string][]byte, err error)
}
