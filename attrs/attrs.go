// Package attrs defines the metadata record shrinkwrap compares between a
// source entry and its destination counterpart, and the comparator that
// decides whether two records describe the same logical file.
package attrs

import (
	"bytes"
	"context"
	"os"

	"github.com/pkg/errors"
)

// Attrs is the unit of comparison between a source entry and a destination
// entry sharing the same path.
type Attrs struct {
	// Version is a generic format/layout version, compared for equality
	// rather than interpreted.
	Version uint64

	Size int64
	Mode os.FileMode
	UID  int
	GID  int

	// Hash is the content fingerprint of a regular file. Nil when the
	// backend doesn't have one on hand (see Equal).
	Hash []byte

	// Name is an optional logical name. For a symlink it is the link
	// target; for other entries it may carry a backend-specific grouping
	// identifier. Empty means "absent".
	Name string

	// Inode is the destination-side inode number, used by fsck to claim
	// an entry for at-most-once repair. Zero on source-side Attrs.
	Inode uint64

	// Path is the path this record was stat'd from. Not considered by
	// Equal; it exists so a backend's Identifier method can recover the
	// path it needs without a separate parameter.
	Path string
}

// IsDir reports whether a describes a directory.
func (a *Attrs) IsDir() bool { return a != nil && a.Mode.IsDir() }

// IsRegular reports whether a describes a regular file.
func (a *Attrs) IsRegular() bool { return a != nil && a.Mode.IsRegular() }

// IsSymlink reports whether a describes a symbolic link.
func (a *Attrs) IsSymlink() bool { return a != nil && a.Mode&os.ModeSymlink != 0 }

// HashConsistentFunc asks the destination backend to confirm that its
// on-disk bytes for the pool entry addressed by a are consistent with a's
// recorded fingerprint.
type HashConsistentFunc func(ctx context.Context, a *Attrs) (bool, error)

// Equal reports whether src and dst describe the same logical file: same
// version, size, type, and (for non-symlinks) mode/owner; for regular
// files, a matching content fingerprint, confirmed via isHashConsistent
// when the destination has none recorded; for symlinks, a matching link
// target; and agreement on whether a logical name is present.
//
// isHashConsistent may be nil, in which case a missing destination
// fingerprint is treated as inequality.
func Equal(ctx context.Context, src, dst *Attrs, isHashConsistent HashConsistentFunc) (bool, error) {
	if src == nil || dst == nil {
		return false, nil
	}
	if src.Version != dst.Version || src.Size != dst.Size {
		return false, nil
	}
	if src.Mode.Type() != dst.Mode.Type() {
		return false, nil
	}

	srcLink := src.IsSymlink()

	if !srcLink {
		if src.Mode != dst.Mode {
			return false, nil
		}
		if src.UID != dst.UID || src.GID != dst.GID {
			return false, nil
		}
	}

	if src.IsRegular() && len(src.Hash) > 0 {
		switch {
		case len(dst.Hash) > 0:
			if !bytes.Equal(src.Hash, dst.Hash) {
				return false, nil
			}
		case isHashConsistent != nil:
			ok, err := isHashConsistent(ctx, src)
			if err != nil {
				return false, errors.Wrap(err, "checking hash consistency")
			}
			if !ok {
				return false, nil
			}
		default:
			return false, nil
		}
	}

	if srcLink {
		if src.Name != dst.Name {
			return false, nil
		}
	} else if dst.IsSymlink() {
		return false, nil
	}

	if (src.Name == "") != (dst.Name == "") {
		return false, nil
	}
	if src.Name != "" && src.Name != dst.Name {
		return false, nil
	}

	return true, nil
}
