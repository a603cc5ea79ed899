package blocksync

// Causality is the outcome of comparing two version vectors.
type Causality int

const (
	Equal Causality = iota
	Dominates
	Dominated
	Concurrent
)

func (c Causality) String() string {
	switch c {
	case Equal:
		return "equal"
	case Dominates:
		return "dominates"
	case Dominated:
		return "dominated"
	case Concurrent:
		return "concurrent"
	}
	return "unknown"
}

// VersionVector is a per-replica logical clock: a map from replica
// identity to a monotonically non-decreasing counter. An absent entry
// reads as zero. All operations are pure; none mutate the receiver.
type VersionVector map[UserID]uint64

// Get returns the counter for u, zero if absent.
func (v VersionVector) Get(u UserID) uint64 { return v[u] }

// Clone returns an independent copy.
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for u, n := range v {
		out[u] = n
	}
	return out
}

// Increment returns a copy of v with u's counter advanced by one.
func (v VersionVector) Increment(u UserID) VersionVector {
	out := v.Clone()
	out[u]++
	return out
}

// Merge returns the point-wise maximum of v and other over the union of
// their replica sets.
func (v VersionVector) Merge(other VersionVector) VersionVector {
	out := v.Clone()
	for u, n := range other {
		if n > out[u] {
			out[u] = n
		}
	}
	return out
}

// Compare relates v to other: Equal, Dominates (v is point-wise >= and
// strictly greater somewhere), Dominated (the reverse), or Concurrent
// (neither dominates). Absent entries read as zero.
func (v VersionVector) Compare(other VersionVector) Causality {
	var greater, less bool
	for u, n := range v {
		if m := other[u]; n > m {
			greater = true
		} else if n < m {
			less = true
		}
	}
	for u, m := range other {
		if _, ok := v[u]; !ok && m > 0 {
			less = true
		}
	}
	switch {
	case greater && less:
		return Concurrent
	case greater:
		return Dominates
	case less:
		return Dominated
	}
	return Equal
}
