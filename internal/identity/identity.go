// Package identity computes deterministic package identities.
//
// A package identity is derived from everything that makes one binary
// configuration of a recipe distinct from another:
//
//	Includes: settings, options, resolved requirements (recipe + identity)
//	Excludes: timestamps, folders, machine-specific data
//
// The inputs are normalized (maps sorted, requirements sorted and
// deduplicated) and serialized with CBOR Core Deterministic Encoding before
// hashing, so identical configurations always produce identical identities
// regardless of the order in which the graph listed them.
package identity

import (
	"sort"

	"github.com/fxamacker/cbor/v2"

	"pkgcache/internal/ref"
)

// Requirement is one resolved dependency as seen by a package identity.
type Requirement struct {
	Ref       ref.RecipeReference
	PackageID ref.PackageID
}

// Info holds the identity-relevant configuration of a package.
type Info struct {
	Settings map[string]string
	Options  map[string]string
	Requires []Requirement
}

type canonicalRequirement struct {
	Ref       string `cbor:"ref"`
	PackageID string `cbor:"package_id"`
}

type canonicalInfo struct {
	Settings map[string]string      `cbor:"settings"`
	Options  map[string]string      `cbor:"options"`
	Requires []canonicalRequirement `cbor:"requires"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("identity: CBOR encoder initialization failed: " + err.Error())
	}
}

// Canonical returns the deterministic serialization hashed by Compute.
//
// Requirement revisions are ignored: a new recipe revision of a dependency
// does not change the identity of its dependents.
func Canonical(info Info) ([]byte, error) {
	c := canonicalInfo{
		Settings: copyMap(info.Settings),
		Options:  copyMap(info.Options),
		Requires: make([]canonicalRequirement, 0, len(info.Requires)),
	}
	for _, r := range info.Requires {
		c.Requires = append(c.Requires, canonicalRequirement{
			Ref:       r.Ref.WithoutRevision().String(),
			PackageID: string(r.PackageID),
		})
	}
	sort.Slice(c.Requires, func(i, j int) bool {
		if c.Requires[i].Ref != c.Requires[j].Ref {
			return c.Requires[i].Ref < c.Requires[j].Ref
		}
		return c.Requires[i].PackageID < c.Requires[j].PackageID
	})
	c.Requires = dedupe(c.Requires)
	return encMode.Marshal(c)
}

// Compute derives the PackageID for info.
func Compute(info Info) (ref.PackageID, error) {
	data, err := Canonical(info)
	if err != nil {
		return "", err
	}
	d := Sum(DomainPackage, data)
	return ref.PackageID(d.Short(ref.PackageIDLen / 2)), nil
}

// nil and empty maps must encode identically.
func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func dedupe(sorted []canonicalRequirement) []canonicalRequirement {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, r := range sorted[1:] {
		if r != out[len(out)-1] {
			out = append(out, r)
		}
	}
	return out
}
