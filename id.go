package blocksync

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// BlockID identifies an immutable object (tree or blob) by the sha256
// digest of its encoded form. Equality is bitwise.
type BlockID [32]byte

func (id BlockID) String() string { return hex.EncodeToString(id[:]) }

func (id BlockID) IsZero() bool { return id == BlockID{} }

// Less orders BlockIDs bytewise, for deterministic iteration.
func (id BlockID) Less(other BlockID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// ParseBlockID decodes a 64-character hex digest.
func ParseBlockID(s string) (BlockID, error) {
	var id BlockID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid block id %q: %w", s, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid block id %q: want %d bytes, got %d", s, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// UserID identifies a replica. UserIDs are totally ordered bytewise so
// map iteration over users can be made deterministic.
type UserID [16]byte

// NewUserID mints a random replica identity.
func NewUserID() UserID { return UserID(uuid.New()) }

func (u UserID) String() string { return uuid.UUID(u).String() }

func (u UserID) IsZero() bool { return u == UserID{} }

// Less orders UserIDs bytewise.
func (u UserID) Less(other UserID) bool {
	return bytes.Compare(u[:], other[:]) < 0
}

// ParseUserID decodes a canonical UUID string.
func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return UserID(id), nil
}
