package export

import (
	"fmt"

	"pkgcache/internal/cache"
	"pkgcache/internal/fsutil"
)

// Decision of the collision arbiter.
type Decision int

const (
	Proceed Decision = iota
	Reject
)

func (d Decision) String() string {
	if d == Reject {
		return "reject"
	}
	return "proceed"
}

// Arbitration is the arbiter's verdict on one destination.
type Arbitration struct {
	Decision Decision
	// Recovered: a dirty destination was purged.
	Recovered bool
	// Replaced: a valid destination was removed because force was set.
	Replaced bool
}

// Arbitrate applies the collision policy to dest:
//  1. A dirty destination is invalid: it is purged with its marker
//  2. An absent destination proceeds
//  3. A present destination is rejected unless force is set
//  4. With force it is removed recursively and the export proceeds
func Arbitrate(dest string, force bool) (Arbitration, error) {
	var a Arbitration
	recovered, err := cache.PurgeDirty(dest)
	if err != nil {
		return a, err
	}
	a.Recovered = recovered

	exists, err := fsutil.Exists(dest)
	if err != nil {
		return a, fmt.Errorf("stat %s: %w", dest, err)
	}
	switch {
	case !exists:
		a.Decision = Proceed
	case !force:
		a.Decision = Reject
	default:
		if err := fsutil.RemoveDurable(dest); err != nil {
			return a, fmt.Errorf("remove %s: %w", dest, err)
		}
		a.Decision = Proceed
		a.Replaced = true
	}
	return a, nil
}
