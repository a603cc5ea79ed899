package blocksync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/blocksync/internal/remote"
)

const (
	indexFileName    = "index.json"
	identityFileName = "replica.id"
	headRef          = "head"
)

// Replica is one user's handle on the synchronized store. It owns the
// local Index and serializes merges and local mutations against it;
// the underlying per-object refcounts stay safe under concurrent GC
// walks on their own.
type Replica struct {
	dir         string
	user        UserID
	store       Store
	idx         *Index
	gc          *Collector
	remote      Remote
	log         zerolog.Logger
	concurrency int

	mu sync.Mutex
}

// Open opens or creates a replica rooted at dir. The replica identity
// is persisted in the store directory on first open unless pinned with
// WithUser.
func Open(dir string, opts ...Option) (*Replica, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	st, err := OpenStore(dir, opts...)
	if err != nil {
		return nil, err
	}

	user, err := loadOrCreateIdentity(dir, options.User)
	if err != nil {
		return nil, err
	}

	idx, err := LoadIndexFile(filepath.Join(dir, indexFileName))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		idx = NewIndex()
	}

	r := &Replica{
		dir:         dir,
		user:        user,
		store:       st,
		idx:         idx,
		gc:          NewCollector(st, options.Logger),
		log:         options.Logger,
		concurrency: options.Concurrency,
	}

	if options.Remote != "" {
		auth := options.Auth
		if auth == nil {
			auth = remote.NewDefaultAuthenticator()
		}
		ociRemote, err := remote.NewOCIRemote(options.Remote, auth)
		if err != nil {
			return nil, err
		}
		ociRemote.SetConcurrency(options.Concurrency)
		r.remote = ociRemote
	}

	return r, nil
}

func loadOrCreateIdentity(dir string, pinned UserID) (UserID, error) {
	if !pinned.IsZero() {
		return pinned, nil
	}
	path := filepath.Join(dir, identityFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseUserID(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return UserID{}, fmt.Errorf("read identity: %w", err)
	}
	user := NewUserID()
	if err := os.WriteFile(path, []byte(user.String()+"\n"), 0644); err != nil {
		return UserID{}, fmt.Errorf("write identity: %w", err)
	}
	return user, nil
}

// User returns the local replica identity.
func (r *Replica) User() UserID { return r.user }

// Store returns the underlying content store.
func (r *Replica) Store() Store { return r.store }

// Index returns the live ownership ledger. Callers must not mutate it
// concurrently with replica operations.
func (r *Replica) Index() *Index {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx
}

// Head returns the local user's current commit, false if the replica
// never committed.
func (r *Replica) Head() (Commit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx.Commit(r.user)
}

// PutBlob stores opaque content as a blob object. The blob is not
// referenced by anything yet; it becomes owned once a tree names it.
func (r *Replica) PutBlob(content []byte) (BlockID, error) {
	id, encoded := EncodeBlob(content)
	if _, err := r.store.Put(encoded); err != nil {
		return BlockID{}, fmt.Errorf("store blob: %w", err)
	}
	return id, nil
}

// PutTree stores a tree object and records one ownership edge plus one
// physical reference per entry. Duplicate entries pointing at the same
// child each contribute their own increment, so the refcount always
// equals the number of recorded edges.
func (r *Replica) PutTree(t Tree) (BlockID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, encoded := EncodeTree(t)
	if _, err := r.store.Put(encoded); err != nil {
		return BlockID{}, fmt.Errorf("store tree: %w", err)
	}

	for _, entry := range t {
		if _, err := r.store.IncRef(entry.ID); err != nil {
			return BlockID{}, fmt.Errorf("hold %s: %w", entry.ID, err)
		}
		r.idx.InsertBlock(r.user, entry.ID, id, 1)
		present, err := r.store.Has(entry.ID)
		if err != nil {
			return BlockID{}, err
		}
		if present {
			r.idx.MarkNotMissing(entry.ID)
		}
	}

	return id, nil
}

// CommitRoot publishes root as the local user's new commit: the clock
// advances by one for this user, the new root is anchored, and the
// superseded root's subtree is released (and collected where this was
// the last reference).
func (r *Replica) CommitRoot(root BlockID) (Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, hadPrev := r.idx.Commit(r.user)
	if hadPrev && prev.Root == root {
		return prev, nil
	}

	c := Commit{Root: root, Clock: prev.Clock.Increment(r.user)}

	if _, err := r.store.IncRef(root); err != nil {
		return Commit{}, fmt.Errorf("hold root %s: %w", root, err)
	}
	r.idx.InsertBlock(r.user, root, root, 1)
	present, err := r.store.Has(root)
	if err != nil {
		return Commit{}, err
	}
	if present {
		r.idx.MarkNotMissing(root)
	}

	r.idx.SetCommit(r.user, c)
	if err := r.store.PutRef(headRef, root); err != nil {
		return Commit{}, err
	}

	if hadPrev {
		r.idx.RemoveBlock(r.user, prev.Root, prev.Root)
		if err := r.dropTree(prev.Root); err != nil {
			return Commit{}, fmt.Errorf("release %s: %w", prev.Root, err)
		}
	}

	r.log.Info().
		Stringer("root", root).
		Uint64("tick", c.Clock.Get(r.user)).
		Msg("commit")
	return c, nil
}

// dropTree releases one physical reference to id and, when that was the
// last one, drops the local user's ownership edges below it and
// collects the subtree, mirroring Collector.DeepRemove. A retained
// subtree keeps its edges: it is still reachable from a live commit.
func (r *Replica) dropTree(id BlockID) error {
	n, err := r.store.RefCount(id)
	if err != nil {
		return err
	}
	if n > 0 {
		if n, err = r.store.DecRef(id); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}

	data, err := r.store.Get(id)
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
			r.idx.RemoveBlock(r.user, entry.ID, id)
			if err := r.dropTree(entry.ID); err != nil {
				return err
			}
		}
	}

	return r.store.Delete(id)
}

// MergeResult summarizes one reconciliation.
type MergeResult struct {
	// NewlyMissing lists blocks the merge made referenced but that are
	// not physically present yet; they need fetching.
	NewlyMissing []BlockID

	// AdoptedCommits counts users whose peer commit superseded the
	// locally known one.
	AdoptedCommits int
}

// Merge folds a peer's index into the local one. The fold runs against
// a deep copy and is swapped in only once it completes, so a failed
// merge leaves the previous state intact; retry from a consistent peer
// snapshot.
func (r *Replica) Merge(peer *Index) (*MergeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.merge(peer)
}

func (r *Replica) merge(peer *Index) (*MergeResult, error) {
	adopted := 0
	for user, c := range peer.Commits() {
		if r.idx.RemoteIsNewer(c, user) {
			adopted++
		}
	}

	snapshot := r.idx.Clone()
	if err := snapshot.Merge(peer, r.store); err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}

	var newly []BlockID
	for _, b := range snapshot.MissingBlocks() {
		if !r.idx.BlockIsMissing(b) {
			newly = append(newly, b)
		}
	}

	r.idx = snapshot

	r.log.Info().
		Int("adopted_commits", adopted).
		Int("newly_missing", len(newly)).
		Msg("merge")
	return &MergeResult{NewlyMissing: newly, AdoptedCommits: adopted}, nil
}

// FetchMissing pulls from the remote and stores every referenced block
// that was missing locally. Returns the number of blocks recovered.
func (r *Replica) FetchMissing(ctx context.Context) (int, error) {
	if r.remote == nil {
		return 0, ErrNoRemote
	}

	_, objects, err := r.remote.Pull(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	missing := r.idx.MissingBlocks()
	p := pool.NewWithResults[BlockID]().WithErrors().WithMaxGoroutines(r.concurrency)
	for _, id := range missing {
		data, ok := objects[id.String()]
		if !ok {
			continue
		}
		p.Go(func() (BlockID, error) {
			stored, err := r.store.Put(data)
			if err != nil {
				return BlockID{}, fmt.Errorf("store %s: %w", id, err)
			}
			if stored != id {
				return BlockID{}, fmt.Errorf("fetched block %s hashed to %s", id, stored)
			}
			return id, nil
		})
	}
	fetched, err := p.Wait()
	if err != nil {
		return 0, err
	}

	for _, id := range fetched {
		r.idx.MarkNotMissing(id)
	}
	r.log.Info().Int("fetched", len(fetched)).Msg("fetch missing")
	return len(fetched), nil
}

// Push uploads the index snapshot and every locally present object
// reachable from a known commit root.
func (r *Replica) Push(ctx context.Context) error {
	if r.remote == nil {
		return ErrNoRemote
	}

	r.mu.Lock()
	objects := make(map[string][]byte)
	var collectErr error
	for _, root := range r.idx.Roots() {
		if collectErr = r.collectObjects(root, objects); collectErr != nil {
			break
		}
	}
	var index []byte
	if collectErr == nil {
		index, collectErr = r.idx.Serialize()
	}
	r.mu.Unlock()
	if collectErr != nil {
		return collectErr
	}

	if err := r.remote.Push(ctx, index, objects); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	r.log.Info().Int("objects", len(objects)).Msg("push")
	return nil
}

// collectObjects walks the DAG under id, gathering every locally
// present object. Blocks missing locally are skipped; the peer either
// has them already or will report them missing after merging.
func (r *Replica) collectObjects(id BlockID, objects map[string][]byte) error {
	key := id.String()
	if _, ok := objects[key]; ok {
		return nil
	}

	data, err := r.store.Get(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	objects[key] = data

	kind, tree, _, err := Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", id, err)
	}
	if kind == KindTree {
		for _, entry := range tree {
			if err := r.collectObjects(entry.ID, objects); err != nil {
				return err
			}
		}
	}
	return nil
}

// Pull downloads the peer snapshot from the remote, stores its objects,
// and merges its index.
func (r *Replica) Pull(ctx context.Context) (*MergeResult, error) {
	if r.remote == nil {
		return nil, ErrNoRemote
	}

	index, objects, err := r.remote.Pull(ctx)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	for key, data := range objects {
		stored, err := r.store.Put(data)
		if err != nil {
			return nil, fmt.Errorf("store object %s: %w", key, err)
		}
		if stored.String() != key {
			return nil, fmt.Errorf("pulled object %s hashed to %s", key, stored)
		}
	}

	peer, err := DeserializeIndex(index)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.merge(peer)
}

// GC sweeps the store, deleting objects no ownership edge references
// anymore. Objects still referenced, or still physically held, are left
// alone. Returns the number of objects deleted.
func (r *Replica) GC() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.store.Objects()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		if r.idx.SomeoneHas(id) {
			continue
		}
		res, err := r.gc.FlatRemove(id)
		if err != nil {
			return removed, err
		}
		if res == Deleted {
			removed++
		}
	}

	r.log.Info().Int("removed", removed).Msg("gc sweep")
	return removed, nil
}

// Close persists the index. The edge table, commit map, and missing set
// go down in one atomic write.
func (r *Replica) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idx.Save(filepath.Join(r.dir, indexFileName))
}
