package store

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Reference counters are sidecar files next to the object bytes,
// holding a single plain decimal integer. Absence of the sidecar is
// equivalent to a count of zero; a sidecar exists if and only if its
// value is positive. The read-modify-write on one counter is made
// atomic with a striped mutex keyed by the object hash, so independent
// GC walks aliasing at a shared child cannot lose updates.

const refLockStripes = 64

type refLocks [refLockStripes]sync.Mutex

func (l *refLocks) forHash(hash string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(hash))
	return &l[h.Sum32()%refLockStripes]
}

// RefCount reads the persisted counter, zero if absent.
func (s *LocalStore) RefCount(hash string) (uint32, error) {
	mu := s.refLocks.forHash(hash)
	mu.Lock()
	defer mu.Unlock()
	return s.readRefcount(hash)
}

// IncRef creates the counter at one if absent, else adds one, and
// returns the new value.
func (s *LocalStore) IncRef(hash string) (uint32, error) {
	mu := s.refLocks.forHash(hash)
	mu.Lock()
	defer mu.Unlock()

	n, err := s.readRefcount(hash)
	if err != nil {
		return 0, err
	}
	n++
	if err := s.writeRefcount(hash, n); err != nil {
		return 0, err
	}
	return n, nil
}

// DecRef subtracts one and returns the new value. At zero the sidecar
// itself is deleted so its presence always implies a positive count.
// Decrementing an absent or zero counter is ErrRefCountUnderflow.
func (s *LocalStore) DecRef(hash string) (uint32, error) {
	mu := s.refLocks.forHash(hash)
	mu.Lock()
	defer mu.Unlock()

	n, err := s.readRefcount(hash)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("object %s: %w", hash, ErrRefCountUnderflow)
	}
	n--
	if n == 0 {
		if err := os.Remove(s.refcountPath(hash)); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("remove refcount %s: %w", hash, err)
		}
		return 0, nil
	}
	if err := s.writeRefcount(hash, n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *LocalStore) readRefcount(hash string) (uint32, error) {
	data, err := os.ReadFile(s.refcountPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read refcount %s: %w", hash, err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("corrupt refcount %s: %w", hash, err)
	}
	return uint32(n), nil
}

func (s *LocalStore) writeRefcount(hash string, n uint32) error {
	path := s.refcountPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create refcount directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.FormatUint(uint64(n), 10)+"\n"), 0644); err != nil {
		return fmt.Errorf("write refcount %s: %w", hash, err)
	}
	return nil
}

func (s *LocalStore) refcountPath(hash string) string {
	return s.objectPath(hash) + refcountSuffix
}
