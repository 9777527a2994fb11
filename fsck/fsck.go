// Package fsck provides the at-most-once claim registry that gates
// destination repair during an fsck-mode sync: when a source and
// destination entry agree on everything but the destination's bytes turn
// out not to match its recorded fingerprint, exactly one path onto that
// inode gets to trigger a repair copy.
package fsck

import mapset "github.com/deckarep/golang-set/v2"

// Registry tracks which destination inodes have already been claimed for
// repair during the current run. It is safe for concurrent use.
type Registry struct {
	claimed mapset.Set[uint64]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{claimed: mapset.NewSet[uint64]()}
}

// Claim reports whether the caller is the first to claim inode for
// repair in this run. Later calls for the same inode return false.
func (r *Registry) Claim(inode uint64) bool {
	return r.claimed.Add(inode)
}
