package blocksync

// Commit is one replica's snapshot: the DAG root it published and the
// version vector at the time of publication. Commits are immutable;
// a replica supersedes its commit with a new one, it never mutates it.
type Commit struct {
	Root  BlockID
	Clock VersionVector
}

// Clone returns an independent copy.
func (c Commit) Clone() Commit {
	return Commit{Root: c.Root, Clock: c.Clock.Clone()}
}

// Equal reports value equality of root and clock.
func (c Commit) Equal(other Commit) bool {
	return c.Root == other.Root && c.Clock.Compare(other.Clock) == Equal
}
