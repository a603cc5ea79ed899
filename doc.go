// Package blocksync is the synchronization core of a multi-replica,
// content-addressed block store.
//
// Every immutable object (a tree listing named child references, or a
// blob holding opaque data) is identified by the sha256 digest of its
// encoded form. Each replica tracks which blocks it references through
// which parent objects in an Index, advances a per-replica version
// vector on every commit, and reconciles divergent histories by merging
// peer indexes. Physical deletion is gated by persistent per-object
// reference counters, so subtrees shared across commits and users
// survive until the last referencing parent is gone.
//
// Basic usage:
//
//	r, _ := blocksync.Open(dir)
//
//	// Store content and commit a root
//	id, _ := r.PutBlob(data)
//	root, _ := r.PutTree(blocksync.Tree{{Name: "readme", ID: id}})
//	r.CommitRoot(root)
//
//	// Reconcile with a peer's index
//	res, _ := r.Merge(peerIndex)
//	fmt.Println(len(res.NewlyMissing), "blocks to fetch")
//
// With an OCI registry as the exchange point:
//
//	r, _ := blocksync.Open(dir, blocksync.WithRemote("ttl.sh/myorg/repo:main"))
//	r.Push(ctx)
//	r.Pull(ctx)
package blocksync
