package blocksync

import (
	"fmt"
	"iter"
	"sort"
)

// Edge is one ownership assertion: user's tree references block from
// parent, count times. A block referenced twice from the same parent
// (duplicate directory entries pointing at identical content) carries
// count 2, not two edges.
type Edge struct {
	Block  BlockID
	Parent BlockID
	User   UserID
	Count  uint32
}

// Index is the distributed ownership ledger of one replica: which user
// asserts which (parent → block) references and how often, the latest
// commit per user, and which referenced blocks are not yet physically
// present locally.
//
// The Index is not safe for concurrent mutation; the owning replica
// serializes merges and local mutations against it.
type Index struct {
	// block → parent → user → count; a stored count is always > 0 and
	// every map level is pruned as soon as it empties.
	blocks map[BlockID]map[BlockID]map[UserID]uint32

	commits map[UserID]Commit
	missing map[BlockID]struct{}
}

// NewIndex returns an empty ledger.
func NewIndex() *Index {
	return &Index{
		blocks:  make(map[BlockID]map[BlockID]map[UserID]uint32),
		commits: make(map[UserID]Commit),
		missing: make(map[BlockID]struct{}),
	}
}

// NewIndexAt returns a ledger seeded with one user's commit. The commit
// root is anchored with a self-edge so it counts as referenced.
func NewIndexAt(user UserID, c Commit) *Index {
	i := NewIndex()
	i.SetCommit(user, c)
	i.InsertBlock(user, c.Root, c.Root, 1)
	return i
}

// InsertBlock adds count to the stored multiplicity of the
// (block, parent, user) edge, creating map levels as needed. A block
// that was not referenced before this call is marked missing; the
// caller clears the mark with MarkNotMissing once the content store
// confirms local presence. A block that stays referenced is never
// re-marked just because it is seen again.
func (i *Index) InsertBlock(user UserID, block, parent BlockID, count uint32) {
	if count == 0 {
		return
	}
	referenced := i.someoneHas(block)

	parents, ok := i.blocks[block]
	if !ok {
		parents = make(map[BlockID]map[UserID]uint32)
		i.blocks[block] = parents
	}
	users, ok := parents[parent]
	if !ok {
		users = make(map[UserID]uint32)
		parents[parent] = users
	}
	users[user] += count

	if !referenced {
		i.missing[block] = struct{}{}
	}
}

// RemoveBlock decrements the (block, parent, user) edge by one.
// Removing a non-existent edge is a no-op: callers may race against a
// concurrent merge. Empty map levels are pruned; a block that loses its
// last edge also leaves the missing set, since only referenced blocks
// may be missing.
func (i *Index) RemoveBlock(user UserID, block, parent BlockID) {
	i.removeBlock(user, block, parent, false)
}

// RemoveBlockAll removes the (block, parent, user) edge outright,
// regardless of its multiplicity.
func (i *Index) RemoveBlockAll(user UserID, block, parent BlockID) {
	i.removeBlock(user, block, parent, true)
}

func (i *Index) removeBlock(user UserID, block, parent BlockID, all bool) {
	parents, ok := i.blocks[block]
	if !ok {
		return
	}
	users, ok := parents[parent]
	if !ok {
		return
	}
	count, ok := users[user]
	if !ok {
		return
	}

	if !all && count > 1 {
		users[user] = count - 1
		return
	}

	delete(users, user)
	if len(users) == 0 {
		delete(parents, parent)
	}
	if len(parents) == 0 {
		delete(i.blocks, block)
		delete(i.missing, block)
	}
}

// MarkNotMissing clears block from the missing set and reports whether
// it had been missing.
func (i *Index) MarkNotMissing(block BlockID) bool {
	if _, ok := i.missing[block]; !ok {
		return false
	}
	delete(i.missing, block)
	return true
}

// SetCommit installs or overwrites user's latest commit. No history is
// kept beyond the latest commit per user.
func (i *Index) SetCommit(user UserID, c Commit) {
	i.commits[user] = c.Clone()
}

// SetVersionVector overwrites user's clock, keeping the committed root.
func (i *Index) SetVersionVector(user UserID, v VersionVector) {
	c := i.commits[user]
	c.Clock = v.Clone()
	i.commits[user] = c
}

// Commit returns user's latest commit, false if the user never
// committed.
func (i *Index) Commit(user UserID) (Commit, bool) {
	c, ok := i.commits[user]
	if !ok {
		return Commit{}, false
	}
	return c.Clone(), true
}

// Commits returns a copy of the per-user commit map.
func (i *Index) Commits() map[UserID]Commit {
	out := make(map[UserID]Commit, len(i.commits))
	for u, c := range i.commits {
		out[u] = c.Clone()
	}
	return out
}

// SomeoneHas reports whether any ownership edge references block,
// regardless of its missing status.
func (i *Index) SomeoneHas(block BlockID) bool { return i.someoneHas(block) }

func (i *Index) someoneHas(block BlockID) bool {
	_, ok := i.blocks[block]
	return ok
}

// BlockIsMissing reports whether block is referenced but not yet
// physically present locally.
func (i *Index) BlockIsMissing(block BlockID) bool {
	_, ok := i.missing[block]
	return ok
}

// MissingBlocks returns the missing set, sorted.
func (i *Index) MissingBlocks() []BlockID {
	out := make([]BlockID, 0, len(i.missing))
	for b := range i.missing {
		out = append(out, b)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Less(out[b]) })
	return out
}

// Roots returns the distinct commit roots across all known users,
// sorted. One sync frontier per replica, deduplicated.
func (i *Index) Roots() []BlockID {
	seen := make(map[BlockID]struct{}, len(i.commits))
	for _, c := range i.commits {
		seen[c.Root] = struct{}{}
	}
	out := make([]BlockID, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Less(out[b]) })
	return out
}

// RemoteIsNewer reports whether remote's clock strictly dominates the
// locally stored commit for user, or no local commit exists. This is
// the single decision point for adopting a peer's commit.
func (i *Index) RemoteIsNewer(remote Commit, user UserID) bool {
	local, ok := i.commits[user]
	if !ok {
		return true
	}
	return remote.Clock.Compare(local.Clock) == Dominates
}

// Merge folds other into i: ownership edges, per-user commits, and the
// missing set, then re-validates every missing block against the
// content store, clearing the ones that are physically present.
//
// Merge is commutative and idempotent. An edge's multiplicity is owned
// by the asserting user (single writer per user), so folding takes the
// larger of the two stored counts: the bigger value is the newer fact,
// and repeating the same exchange cannot inflate it. Per-user entries
// stay separate, so the cross-user total a GC refcount reconstruction
// would sum stays accurate even when two replicas independently record
// structurally identical edges.
func (i *Index) Merge(other *Index, store Store) error {
	for block, parents := range other.blocks {
		referenced := i.someoneHas(block)
		for parent, users := range parents {
			for user, count := range users {
				if count > i.edgeCount(block, parent, user) {
					i.setEdge(block, parent, user, count)
				}
			}
		}
		if !referenced {
			// Newly referenced here; missing until validated below.
			i.missing[block] = struct{}{}
		}
	}

	for user, remote := range other.commits {
		i.mergeCommit(user, remote)
	}

	for block := range other.missing {
		if i.someoneHas(block) {
			i.missing[block] = struct{}{}
		}
	}

	for block := range i.missing {
		ok, err := store.Has(block)
		if err != nil {
			return fmt.Errorf("validate missing block %s: %w", block, err)
		}
		if ok {
			delete(i.missing, block)
		}
	}
	return nil
}

// mergeCommit reconciles one user's commit. Ordered clocks keep the
// dominating side. Concurrent clocks for the same user only arise from
// replayed or forked snapshots; they resolve to the point-wise clock
// union with the larger root digest as tie-break, which keeps the
// result independent of arrival order.
func (i *Index) mergeCommit(user UserID, remote Commit) {
	local, ok := i.commits[user]
	if !ok {
		i.commits[user] = remote.Clone()
		return
	}
	switch local.Clock.Compare(remote.Clock) {
	case Dominates, Equal:
		// keep local
	case Dominated:
		i.commits[user] = remote.Clone()
	case Concurrent:
		root := local.Root
		if root.Less(remote.Root) {
			root = remote.Root
		}
		i.commits[user] = Commit{Root: root, Clock: local.Clock.Merge(remote.Clock)}
	}
}

func (i *Index) edgeCount(block, parent BlockID, user UserID) uint32 {
	return i.blocks[block][parent][user]
}

func (i *Index) setEdge(block, parent BlockID, user UserID, count uint32) {
	parents, ok := i.blocks[block]
	if !ok {
		parents = make(map[BlockID]map[UserID]uint32)
		i.blocks[block] = parents
	}
	users, ok := parents[parent]
	if !ok {
		users = make(map[UserID]uint32)
		parents[parent] = users
	}
	users[user] = count
}

// EdgeCount returns the stored multiplicity of one edge, zero if
// absent. Absence and a zero count are indistinguishable.
func (i *Index) EdgeCount(block, parent BlockID, user UserID) uint32 {
	return i.edgeCount(block, parent, user)
}

// Edges enumerates all edges in deterministic (block, parent, user)
// order.
func (i *Index) Edges() iter.Seq[Edge] {
	return func(yield func(Edge) bool) {
		blocks := make([]BlockID, 0, len(i.blocks))
		for b := range i.blocks {
			blocks = append(blocks, b)
		}
		sort.Slice(blocks, func(a, b int) bool { return blocks[a].Less(blocks[b]) })

		for _, b := range blocks {
			parents := make([]BlockID, 0, len(i.blocks[b]))
			for p := range i.blocks[b] {
				parents = append(parents, p)
			}
			sort.Slice(parents, func(a, c int) bool { return parents[a].Less(parents[c]) })

			for _, p := range parents {
				users := make([]UserID, 0, len(i.blocks[b][p]))
				for u := range i.blocks[b][p] {
					users = append(users, u)
				}
				sort.Slice(users, func(a, c int) bool { return users[a].Less(users[c]) })

				for _, u := range users {
					if !yield(Edge{Block: b, Parent: p, User: u, Count: i.blocks[b][p][u]}) {
						return
					}
				}
			}
		}
	}
}

// Clone returns a deep copy. Merges fold into a clone first so a failed
// merge never leaves the live index half-applied.
func (i *Index) Clone() *Index {
	out := NewIndex()
	for b, parents := range i.blocks {
		for p, users := range parents {
			for u, count := range users {
				out.setEdge(b, p, u, count)
			}
		}
	}
	for u, c := range i.commits {
		out.commits[u] = c.Clone()
	}
	for b := range i.missing {
		out.missing[b] = struct{}{}
	}
	return out
}

// Equal reports value equality of edges, commits, and missing set.
func (i *Index) Equal(other *Index) bool {
	if len(i.blocks) != len(other.blocks) ||
		len(i.commits) != len(other.commits) ||
		len(i.missing) != len(other.missing) {
		return false
	}
	for b, parents := range i.blocks {
		op, ok := other.blocks[b]
		if !ok || len(parents) != len(op) {
			return false
		}
		for p, users := range parents {
			ou, ok := op[p]
			if !ok || len(users) != len(ou) {
				return false
			}
			for u, count := range users {
				if ou[u] != count {
					return false
				}
			}
		}
	}
	for u, c := range i.commits {
		oc, ok := other.commits[u]
		if !ok || !c.Equal(oc) {
			return false
		}
	}
	for b := range i.missing {
		if _, ok := other.missing[b]; !ok {
			return false
		}
	}
	return true
}
