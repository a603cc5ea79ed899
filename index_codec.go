package blocksync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Persisted form of the ledger. Edges, commits, and the missing set are
// serialized together and written atomically so a crash can never
// observe one without the others.

type indexDoc struct {
	Blocks  map[string]map[string]map[string]uint32 `json:"blocks"`
	Commits map[string]commitDoc                    `json:"commits"`
	Missing []string                                `json:"missing"`
}

type commitDoc struct {
	Root  string            `json:"root"`
	Clock map[string]uint64 `json:"clock"`
}

// Serialize encodes the full ledger state.
func (i *Index) Serialize() ([]byte, error) {
	doc := indexDoc{
		Blocks:  make(map[string]map[string]map[string]uint32, len(i.blocks)),
		Commits: make(map[string]commitDoc, len(i.commits)),
		Missing: make([]string, 0, len(i.missing)),
	}

	for block, parents := range i.blocks {
		pm := make(map[string]map[string]uint32, len(parents))
		for parent, users := range parents {
			um := make(map[string]uint32, len(users))
			for user, count := range users {
				um[user.String()] = count
			}
			pm[parent.String()] = um
		}
		doc.Blocks[block.String()] = pm
	}

	for user, c := range i.commits {
		clock := make(map[string]uint64, len(c.Clock))
		for u, n := range c.Clock {
			clock[u.String()] = n
		}
		doc.Commits[user.String()] = commitDoc{Root: c.Root.String(), Clock: clock}
	}

	for block := range i.missing {
		doc.Missing = append(doc.Missing, block.String())
	}

	return json.Marshal(doc)
}

// DeserializeIndex restores a ledger from its serialized form.
func DeserializeIndex(data []byte) (*Index, error) {
	var doc indexDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	i := NewIndex()

	for blockStr, parents := range doc.Blocks {
		block, err := ParseBlockID(blockStr)
		if err != nil {
			return nil, fmt.Errorf("parse index: %w", err)
		}
		for parentStr, users := range parents {
			parent, err := ParseBlockID(parentStr)
			if err != nil {
				return nil, fmt.Errorf("parse index: %w", err)
			}
			for userStr, count := range users {
				user, err := ParseUserID(userStr)
				if err != nil {
					return nil, fmt.Errorf("parse index: %w", err)
				}
				if count == 0 {
					return nil, fmt.Errorf("parse index: zero count edge %s/%s", blockStr, userStr)
				}
				i.setEdge(block, parent, user, count)
			}
		}
	}

	for userStr, cd := range doc.Commits {
		user, err := ParseUserID(userStr)
		if err != nil {
			return nil, fmt.Errorf("parse index: %w", err)
		}
		root, err := ParseBlockID(cd.Root)
		if err != nil {
			return nil, fmt.Errorf("parse index: %w", err)
		}
		clock := make(VersionVector, len(cd.Clock))
		for uStr, n := range cd.Clock {
			u, err := ParseUserID(uStr)
			if err != nil {
				return nil, fmt.Errorf("parse index: %w", err)
			}
			clock[u] = n
		}
		i.commits[user] = Commit{Root: root, Clock: clock}
	}

	for _, blockStr := range doc.Missing {
		block, err := ParseBlockID(blockStr)
		if err != nil {
			return nil, fmt.Errorf("parse index: %w", err)
		}
		if !i.someoneHas(block) {
			return nil, fmt.Errorf("parse index: missing block %s has no edge", blockStr)
		}
		i.missing[block] = struct{}{}
	}

	return i, nil
}

// Save writes the ledger to path atomically (temp file plus rename).
func (i *Index) Save(path string) error {
	data, err := i.Serialize()
	if err != nil {
		return fmt.Errorf("serialize index: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install index: %w", err)
	}
	return nil
}

// LoadIndexFile restores a ledger persisted by Save. A missing file is
// ErrNotFound.
func LoadIndexFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("index %s: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	return DeserializeIndex(data)
}
