// Package store implements the local content-addressed storage layer.
//
// Layout:
//
//	basePath/
//	  objects/
//	    ab/cd123...      encoded object bytes (zstd-framed)
//	    ab/cd123....rc   refcount sidecar (plain decimal)
//	  refs/
//	    head             plain text hex digest
//
// Object bytes and refcount sidecars share the same sharded path so the
// 1:1 record-per-object contract is visible on disk.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aweris/blocksync/internal/compression"
)

var (
	// ErrNotFound marks absence of an object or ref. Recoverable.
	ErrNotFound = errors.New("store: not found")

	// ErrRefCountUnderflow marks a decrement of an absent or zero
	// counter. This is a logic error in the caller, never clamped.
	ErrRefCountUnderflow = errors.New("store: refcount underflow")
)

const refcountSuffix = ".rc"

// LocalStore stores content-addressed objects on the local filesystem
// with git-style two-level sharding, zstd framing at rest, and an LRU
// cache of decoded objects.
type LocalStore struct {
	basePath   string
	cache      *lru.Cache[string, []byte]
	compressor *compression.Compressor

	refLocks refLocks
}

func NewLocalStore(basePath string, cacheSize, compressionLevel int, compressionEnabled bool) (*LocalStore, error) {
	for _, dir := range []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "refs"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	compressor, err := compression.NewCompressor(compressionLevel, compressionEnabled)
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}

	return &LocalStore{
		basePath:   basePath,
		cache:      cache,
		compressor: compressor,
	}, nil
}

// Get retrieves an object's bytes by hex digest.
func (s *LocalStore) Get(hash string) ([]byte, error) {
	if data, ok := s.cache.Get(hash); ok {
		return data, nil
	}

	framed, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", hash, ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s: %w", hash, err)
	}

	data, err := s.compressor.Decompress(framed)
	if err != nil {
		return nil, fmt.Errorf("decompress object %s: %w", hash, err)
	}

	s.cache.Add(hash, data)
	return data, nil
}

// Put stores an object and returns its hex digest. The digest is
// computed over the raw bytes, before framing.
func (s *LocalStore) Put(data []byte) (string, error) {
	h := sha256.Sum256(data)
	hash := hex.EncodeToString(h[:])

	path := s.objectPath(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	framed, err := s.compressor.Compress(data)
	if err != nil {
		return "", fmt.Errorf("compress object: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(path, framed, 0644); err != nil {
		return "", fmt.Errorf("write object %s: %w", hash, err)
	}

	s.cache.Add(hash, data)
	return hash, nil
}

// Has checks physical presence of an object.
func (s *LocalStore) Has(hash string) (bool, error) {
	if s.cache.Contains(hash) {
		return true, nil
	}
	_, err := os.Stat(s.objectPath(hash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", hash, err)
}

// Delete removes an object's bytes. Deleting an absent object is a
// no-op.
func (s *LocalStore) Delete(hash string) error {
	s.cache.Remove(hash)
	if err := os.Remove(s.objectPath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object %s: %w", hash, err)
	}
	return nil
}

// Objects enumerates the hex digests of every stored object.
func (s *LocalStore) Objects() ([]string, error) {
	var hashes []string
	root := filepath.Join(s.basePath, "objects")
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.HasSuffix(path, refcountSuffix) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		hashes = append(hashes, strings.ReplaceAll(rel, string(filepath.Separator), ""))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk objects: %w", err)
	}
	return hashes, nil
}

// GetRef resolves a named ref.
func (s *LocalStore) GetRef(name string) (string, error) {
	data, err := os.ReadFile(s.refPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("ref %s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("read ref %s: %w", name, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// PutRef installs or overwrites a named ref.
func (s *LocalStore) PutRef(name, hash string) error {
	path := s.refPath(name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create ref directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hash+"\n"), 0644); err != nil {
		return fmt.Errorf("write ref %s: %w", name, err)
	}
	return nil
}

// objectPath shards objects/ab/cd123... like git.
func (s *LocalStore) objectPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.basePath, "objects", hash)
	}
	return filepath.Join(s.basePath, "objects", hash[:2], hash[2:])
}

func (s *LocalStore) refPath(name string) string {
	return filepath.Join(s.basePath, "refs", name)
}
