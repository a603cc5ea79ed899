package blocksync

import (
	"fmt"

	"github.com/aweris/blocksync/internal/store"
)

// localStore adapts the filesystem store (hex-string keyed) to the
// BlockID-typed Store interface the sync core runs against.
type localStore struct {
	ls *store.LocalStore
}

// OpenStore opens or creates a content store rooted at dir.
func OpenStore(dir string, opts ...Option) (Store, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	ls, err := store.NewLocalStore(dir, options.CacheSize, options.CompressionLevel, options.Compression)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &localStore{ls: ls}, nil
}

func (s *localStore) Get(id BlockID) ([]byte, error) { return s.ls.Get(id.String()) }

func (s *localStore) Put(data []byte) (BlockID, error) {
	hash, err := s.ls.Put(data)
	if err != nil {
		return BlockID{}, err
	}
	return ParseBlockID(hash)
}

func (s *localStore) Has(id BlockID) (bool, error) { return s.ls.Has(id.String()) }

func (s *localStore) Delete(id BlockID) error { return s.ls.Delete(id.String()) }

func (s *localStore) RefCount(id BlockID) (uint32, error) { return s.ls.RefCount(id.String()) }

func (s *localStore) IncRef(id BlockID) (uint32, error) { return s.ls.IncRef(id.String()) }

func (s *localStore) DecRef(id BlockID) (uint32, error) { return s.ls.DecRef(id.String()) }

func (s *localStore) Objects() ([]BlockID, error) {
	hashes, err := s.ls.Objects()
	if err != nil {
		return nil, err
	}
	ids := make([]BlockID, 0, len(hashes))
	for _, hash := range hashes {
		id, err := ParseBlockID(hash)
		if err != nil {
			return nil, fmt.Errorf("corrupt object name: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *localStore) GetRef(name string) (BlockID, error) {
	hash, err := s.ls.GetRef(name)
	if err != nil {
		return BlockID{}, err
	}
	return ParseBlockID(hash)
}

func (s *localStore) PutRef(name string, id BlockID) error {
	return s.ls.PutRef(name, id.String())
}
