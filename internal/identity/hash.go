package identity

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// Digest is a 32-byte BLAKE3 keyed hash.
type Digest [32]byte

// Domain separates hash uses. Two domains never produce the same digest for
// the same input.
type Domain [32]byte

func newDomain(label string) Domain {
	if len(label) > len(Domain{}) {
		panic("identity: domain label too long: " + label)
	}
	var d Domain
	copy(d[:], label)
	return d
}

var (
	// DomainPackage hashes canonical package identity documents.
	DomainPackage = newDomain("pkgcache.identity.package")
	// DomainFile hashes the content of one file in a package folder.
	DomainFile = newDomain("pkgcache.identity.file")
	// DomainRevision hashes a serialized folder manifest.
	DomainRevision = newDomain("pkgcache.identity.revision")
	// DomainShortPath derives short-path folder names.
	DomainShortPath = newDomain("pkgcache.identity.shortpath")
)

// Sum returns the keyed hash of data in domain d.
func Sum(d Domain, data []byte) Digest {
	h := newHasher(d)
	h.Write(data)
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// SumReader hashes everything read from r in domain d.
func SumReader(d Domain, r io.Reader) (Digest, error) {
	h := newHasher(d)
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, err
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out, nil
}

func newHasher(d Domain) *blake3.Hasher {
	h, err := blake3.NewKeyed(d[:])
	if err != nil {
		// Only fails on a key that is not 32 bytes.
		panic("identity: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return h
}

// String renders the full digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short renders the first n bytes as hex.
func (d Digest) Short(n int) string {
	if n > len(d) {
		n = len(d)
	}
	return hex.EncodeToString(d[:n])
}

// ParseDigest parses the String form of a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(len(d)) {
		return Digest{}, fmt.Errorf("digest %q: want %d hex characters, got %d", s, hex.EncodedLen(len(d)), len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return Digest{}, fmt.Errorf("digest %q: %w", s, err)
	}
	return d, nil
}
