package blocksync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blockN(n byte) BlockID {
	var id BlockID
	id[0] = n
	return id
}

func testStore(t *testing.T) Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestInsertBlockMarksMissingOnFirstReference(t *testing.T) {
	u := userN(1)
	b, p := blockN(10), blockN(11)

	idx := NewIndex()
	assert.False(t, idx.SomeoneHas(b))
	assert.False(t, idx.BlockIsMissing(b))

	idx.InsertBlock(u, b, p, 1)
	assert.True(t, idx.SomeoneHas(b))
	assert.True(t, idx.BlockIsMissing(b), "first reference marks the block missing")

	require.True(t, idx.MarkNotMissing(b))
	assert.False(t, idx.BlockIsMissing(b))

	// seeing the block again must not re-mark it
	idx.InsertBlock(userN(2), b, p, 1)
	assert.False(t, idx.BlockIsMissing(b))
}

func TestInsertBlockZeroCountIsNoop(t *testing.T) {
	idx := NewIndex()
	idx.InsertBlock(userN(1), blockN(10), blockN(11), 0)
	assert.False(t, idx.SomeoneHas(blockN(10)))
}

func TestInsertBlockAccumulatesMultiplicity(t *testing.T) {
	u := userN(1)
	b, p := blockN(10), blockN(11)

	idx := NewIndex()
	idx.InsertBlock(u, b, p, 1)
	idx.InsertBlock(u, b, p, 1)

	assert.Equal(t, uint32(2), idx.EdgeCount(b, p, u))
}

func TestRemoveBlockMultiplicity(t *testing.T) {
	u := userN(1)
	b, p := blockN(10), blockN(11)

	idx := NewIndex()
	idx.InsertBlock(u, b, p, 3)

	idx.RemoveBlock(u, b, p)
	assert.Equal(t, uint32(2), idx.EdgeCount(b, p, u))

	idx.RemoveBlockAll(u, b, p)
	assert.Equal(t, uint32(0), idx.EdgeCount(b, p, u))
	assert.False(t, idx.SomeoneHas(b))
}

func TestRemoveBlockAbsentIsNoop(t *testing.T) {
	idx := NewIndex()
	idx.RemoveBlock(userN(1), blockN(10), blockN(11))
	assert.False(t, idx.SomeoneHas(blockN(10)))
}

func TestRemoveBlockCascadePrune(t *testing.T) {
	u1, u2 := userN(1), userN(2)
	b, p := blockN(10), blockN(11)

	idx := NewIndex()
	idx.InsertBlock(u1, b, p, 1)
	idx.InsertBlock(u2, b, p, 1)

	idx.RemoveBlock(u1, b, p)
	assert.True(t, idx.SomeoneHas(b), "still referenced by u2")

	idx.RemoveBlock(u2, b, p)
	assert.False(t, idx.SomeoneHas(b), "last edge prunes the block entry")
	assert.False(t, idx.BlockIsMissing(b), "an unreferenced block cannot be missing")
}

func TestRemoveBlockPrunesOneUserKeepsOther(t *testing.T) {
	u1, u2 := userN(1), userN(2)
	b, p := blockN(10), blockN(11)

	idx := NewIndex()
	idx.InsertBlock(u1, b, p, 2)
	idx.InsertBlock(u2, b, p, 1)
	require.True(t, idx.SomeoneHas(b))

	idx.RemoveBlock(u1, b, p)
	idx.RemoveBlock(u1, b, p)

	assert.Equal(t, uint32(0), idx.EdgeCount(b, p, u1), "u1's contribution is pruned")
	assert.Equal(t, uint32(1), idx.EdgeCount(b, p, u2), "u2's edge survives")
	assert.True(t, idx.SomeoneHas(b))
}

func TestRemoveBlockDropsFromMissing(t *testing.T) {
	u := userN(1)
	b, p := blockN(10), blockN(11)

	idx := NewIndex()
	idx.InsertBlock(u, b, p, 1)
	require.True(t, idx.BlockIsMissing(b))

	idx.RemoveBlock(u, b, p)
	assert.False(t, idx.BlockIsMissing(b))
}

func TestCommitRoundTrip(t *testing.T) {
	u := userN(1)
	c := Commit{Root: blockN(10), Clock: VersionVector{u: 1}}

	idx := NewIndex()
	_, ok := idx.Commit(u)
	require.False(t, ok)

	idx.SetCommit(u, c)
	got, ok := idx.Commit(u)
	require.True(t, ok)
	assert.True(t, got.Equal(c))

	// the stored commit is isolated from later caller mutation
	c.Clock[u] = 99
	got, _ = idx.Commit(u)
	assert.Equal(t, uint64(1), got.Clock.Get(u))
}

func TestSetVersionVectorKeepsRoot(t *testing.T) {
	u := userN(1)

	idx := NewIndex()
	idx.SetCommit(u, Commit{Root: blockN(10), Clock: VersionVector{u: 1}})
	idx.SetVersionVector(u, VersionVector{u: 5})

	got, ok := idx.Commit(u)
	require.True(t, ok)
	assert.Equal(t, blockN(10), got.Root)
	assert.Equal(t, uint64(5), got.Clock.Get(u))
}

func TestRootsDeduplicated(t *testing.T) {
	idx := NewIndex()
	idx.SetCommit(userN(1), Commit{Root: blockN(10)})
	idx.SetCommit(userN(2), Commit{Root: blockN(10)})
	idx.SetCommit(userN(3), Commit{Root: blockN(20)})

	assert.Equal(t, []BlockID{blockN(10), blockN(20)}, idx.Roots())
}

func TestRemoteIsNewer(t *testing.T) {
	u := userN(1)

	idx := NewIndex()
	assert.True(t, idx.RemoteIsNewer(Commit{Root: blockN(10)}, u), "no local commit")

	idx.SetCommit(u, Commit{Root: blockN(10), Clock: VersionVector{u: 2}})

	assert.True(t, idx.RemoteIsNewer(Commit{Clock: VersionVector{u: 3}}, u))
	assert.False(t, idx.RemoteIsNewer(Commit{Clock: VersionVector{u: 2}}, u), "equal is not newer")
	assert.False(t, idx.RemoteIsNewer(Commit{Clock: VersionVector{u: 1}}, u))
	assert.False(t, idx.RemoteIsNewer(Commit{Clock: VersionVector{userN(2): 1}}, u), "concurrent is not newer")
}

func TestMergeCommutative(t *testing.T) {
	store := testStore(t)
	u1, u2 := userN(1), userN(2)

	a := NewIndex()
	a.InsertBlock(u1, blockN(10), blockN(11), 2)
	a.SetCommit(u1, Commit{Root: blockN(11), Clock: VersionVector{u1: 1}})

	b := NewIndex()
	b.InsertBlock(u2, blockN(10), blockN(12), 1)
	b.InsertBlock(u2, blockN(20), blockN(12), 1)
	b.SetCommit(u2, Commit{Root: blockN(12), Clock: VersionVector{u2: 3}})

	ab := a.Clone()
	require.NoError(t, ab.Merge(b, store))

	ba := b.Clone()
	require.NoError(t, ba.Merge(a, store))

	assert.True(t, ab.Equal(ba), "merge order must not matter")
}

func TestMergeIdempotent(t *testing.T) {
	store := testStore(t)
	u1, u2 := userN(1), userN(2)

	a := NewIndex()
	a.InsertBlock(u1, blockN(10), blockN(11), 1)
	a.SetCommit(u1, Commit{Root: blockN(11), Clock: VersionVector{u1: 2}})

	b := NewIndex()
	b.InsertBlock(u2, blockN(10), blockN(11), 1)
	b.SetCommit(u2, Commit{Root: blockN(11), Clock: VersionVector{u2: 1}})

	once := a.Clone()
	require.NoError(t, once.Merge(b, store))

	twice := once.Clone()
	require.NoError(t, twice.Merge(b, store))
	assert.True(t, once.Equal(twice), "repeating a merge must not change the result")

	again := once.Clone()
	require.NoError(t, again.Merge(a, store))
	assert.True(t, once.Equal(again), "re-merging either input must not change the result")
}

func TestMergeEdgeTakesLargerCount(t *testing.T) {
	store := testStore(t)
	u := userN(1)
	b, p := blockN(10), blockN(11)

	local := NewIndex()
	local.InsertBlock(u, b, p, 1)

	peer := NewIndex()
	peer.InsertBlock(u, b, p, 3)

	require.NoError(t, local.Merge(peer, store))
	assert.Equal(t, uint32(3), local.EdgeCount(b, p, u))

	// the smaller side never wins
	require.NoError(t, local.Merge(peer, store))
	assert.Equal(t, uint32(3), local.EdgeCount(b, p, u))
}

func TestMergeKeepsPerUserEdgesSeparate(t *testing.T) {
	store := testStore(t)
	u1, u2 := userN(1), userN(2)
	b, p := blockN(10), blockN(11)

	local := NewIndex()
	local.InsertBlock(u1, b, p, 1)

	peer := NewIndex()
	peer.InsertBlock(u2, b, p, 1)

	require.NoError(t, local.Merge(peer, store))
	assert.Equal(t, uint32(1), local.EdgeCount(b, p, u1))
	assert.Equal(t, uint32(1), local.EdgeCount(b, p, u2))
}

func TestMergeCommitAdoption(t *testing.T) {
	store := testStore(t)
	u := userN(1)

	local := NewIndex()
	local.SetCommit(u, Commit{Root: blockN(10), Clock: VersionVector{u: 2}})

	// dominated remote is ignored
	peer := NewIndex()
	peer.SetCommit(u, Commit{Root: blockN(20), Clock: VersionVector{u: 1}})
	require.NoError(t, local.Merge(peer, store))
	got, _ := local.Commit(u)
	assert.Equal(t, blockN(10), got.Root)

	// dominating remote is adopted
	peer = NewIndex()
	peer.SetCommit(u, Commit{Root: blockN(20), Clock: VersionVector{u: 3}})
	require.NoError(t, local.Merge(peer, store))
	got, _ = local.Commit(u)
	assert.Equal(t, blockN(20), got.Root)
	assert.Equal(t, uint64(3), got.Clock.Get(u))
}

func TestMergeConcurrentCommitResolvesDeterministically(t *testing.T) {
	store := testStore(t)
	u, other := userN(1), userN(2)

	cA := Commit{Root: blockN(10), Clock: VersionVector{u: 2}}
	cB := Commit{Root: blockN(20), Clock: VersionVector{u: 1, other: 1}}

	a := NewIndex()
	a.SetCommit(u, cA)
	b := NewIndex()
	b.SetCommit(u, cB)

	require.NoError(t, a.Merge(b, store))
	require.NoError(t, b.Merge(a, store))

	gotA, _ := a.Commit(u)
	gotB, _ := b.Commit(u)
	assert.True(t, gotA.Equal(gotB), "both sides must converge")

	// resolution unions the clocks so it dominates both inputs
	assert.NotEqual(t, Dominated, gotA.Clock.Compare(cA.Clock))
	assert.NotEqual(t, Dominated, gotA.Clock.Compare(cB.Clock))
	assert.Equal(t, blockN(20), gotA.Root, "larger root digest wins the tie")
}

func TestMergeMarksNewlyReferencedMissing(t *testing.T) {
	store := testStore(t)
	u := userN(1)

	local := NewIndex()

	peer := NewIndex()
	peer.InsertBlock(u, blockN(10), blockN(11), 1)
	peer.MarkNotMissing(blockN(10)) // present on the peer, absent here

	require.NoError(t, local.Merge(peer, store))
	assert.True(t, local.BlockIsMissing(blockN(10)))
}

func TestMergeValidatesMissingAgainstStore(t *testing.T) {
	store := testStore(t)
	u := userN(1)

	id, encoded := EncodeBlob([]byte("already here"))
	_, err := store.Put(encoded)
	require.NoError(t, err)

	peer := NewIndex()
	peer.InsertBlock(u, id, blockN(11), 1)

	local := NewIndex()
	require.NoError(t, local.Merge(peer, store))

	assert.True(t, local.SomeoneHas(id))
	assert.False(t, local.BlockIsMissing(id), "physically present blocks leave the missing set")
}

func TestMergeUnionsPeerMissing(t *testing.T) {
	store := testStore(t)
	u := userN(1)
	b, p := blockN(10), blockN(11)

	local := NewIndex()
	local.InsertBlock(u, b, p, 1)
	local.MarkNotMissing(b) // we once thought we had it

	peer := NewIndex()
	peer.InsertBlock(u, b, p, 1) // still referenced on the peer, and missing there

	require.NoError(t, local.Merge(peer, store))
	assert.True(t, local.BlockIsMissing(b), "peer's missing mark propagates while the block stays referenced")
}

func TestEdgesDeterministicOrder(t *testing.T) {
	idx := NewIndex()
	idx.InsertBlock(userN(2), blockN(20), blockN(30), 1)
	idx.InsertBlock(userN(1), blockN(10), blockN(30), 2)
	idx.InsertBlock(userN(1), blockN(10), blockN(11), 1)

	var got []Edge
	for e := range idx.Edges() {
		got = append(got, e)
	}

	require.Len(t, got, 3)
	assert.Equal(t, Edge{Block: blockN(10), Parent: blockN(11), User: userN(1), Count: 1}, got[0])
	assert.Equal(t, Edge{Block: blockN(10), Parent: blockN(30), User: userN(1), Count: 2}, got[1])
	assert.Equal(t, Edge{Block: blockN(20), Parent: blockN(30), User: userN(2), Count: 1}, got[2])
}

func TestCloneIsIndependent(t *testing.T) {
	u := userN(1)

	idx := NewIndex()
	idx.InsertBlock(u, blockN(10), blockN(11), 1)
	idx.SetCommit(u, Commit{Root: blockN(11), Clock: VersionVector{u: 1}})

	clone := idx.Clone()
	require.True(t, idx.Equal(clone))

	clone.InsertBlock(u, blockN(20), blockN(11), 1)
	clone.SetCommit(u, Commit{Root: blockN(20), Clock: VersionVector{u: 2}})

	assert.False(t, idx.SomeoneHas(blockN(20)))
	got, _ := idx.Commit(u)
	assert.Equal(t, blockN(11), got.Root)
}
