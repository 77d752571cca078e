// Package manifest records the content of a folder as a sorted list of
// (relative path, digest) entries.
//
// A manifest is the basis of content revisions: its ContentHash depends only
// on file paths and file bytes. Timestamps, ownership and walk order never
// contribute, so two folders with identical content always produce the same
// hash.
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pkgcache/internal/fsutil"
	"pkgcache/internal/identity"
)

// FileName is the manifest's name inside the folder it describes. It is
// excluded from its own entries.
const FileName = "manifest.txt"

// Entry is one file of the folder.
type Entry struct {
	// Path is slash-separated and relative to the folder root.
	Path   string
	Digest identity.Digest
}

// Manifest is the ordered list of entries of one folder.
type Manifest struct {
	Entries []Entry
}

// Create walks dir and digests every regular file and symlink in it.
//
// The walk process:
//  1. Every entry below dir is visited, directories themselves are skipped
//  2. Regular files are digested by content
//  3. Symlinks are digested by their target string, never followed
//  4. The manifest file at the root is ignored
//  5. Names containing line breaks are rejected, one entry is one line
//  6. Entries are sorted by path for determinism
func Create(dir string) (*Manifest, error) {
	var entries []Entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == FileName {
			return nil
		}
		if strings.ContainsAny(rel, "\n\r") {
			return fmt.Errorf("manifest %q: line breaks are not allowed in file names", rel)
		}

		var digest identity.Digest
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			digest = identity.Sum(identity.DomainFile, []byte("symlink:"+filepath.ToSlash(target)))
		case d.Type().IsRegular():
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			digest, err = identity.SumReader(identity.DomainFile, f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("digest %s: %w", rel, err)
			}
		default:
			return fmt.Errorf("manifest %s: unsupported file type %s", rel, d.Type())
		}
		entries = append(entries, Entry{Path: rel, Digest: digest})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// WalkDir is lexical per directory, which is not the same as lexical
	// over full slash paths ("a-b" vs "a/b").
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return &Manifest{Entries: entries}, nil
}

// Bytes renders the manifest as "path: digest" lines.
func (m *Manifest) Bytes() []byte {
	var b bytes.Buffer
	for _, e := range m.Entries {
		b.WriteString(e.Path)
		b.WriteString(": ")
		b.WriteString(e.Digest.String())
		b.WriteByte('\n')
	}
	return b.Bytes()
}

// ContentHash is the revision of the described content.
func (m *Manifest) ContentHash() string {
	return identity.Sum(identity.DomainRevision, m.Bytes()).String()
}

// Equal reports whether both manifests describe the same content.
func (m *Manifest) Equal(o *Manifest) bool {
	return bytes.Equal(m.Bytes(), o.Bytes())
}

// Diff returns the paths that are added, removed or changed between m and
// o, sorted.
func (m *Manifest) Diff(o *Manifest) []string {
	mine := make(map[string]identity.Digest, len(m.Entries))
	for _, e := range m.Entries {
		mine[e.Path] = e.Digest
	}
	var out []string
	for _, e := range o.Entries {
		d, ok := mine[e.Path]
		if !ok || d != e.Digest {
			out = append(out, e.Path)
		}
		delete(mine, e.Path)
	}
	for p := range mine {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Save writes the manifest into dir under FileName.
func (m *Manifest) Save(dir string) error {
	return fsutil.WriteFileAtomic(filepath.Join(dir, FileName), m.Bytes(), 0o644)
}

// Load reads the manifest saved in dir.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse reads the Bytes form. Entries must be sorted and unique.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		i := strings.LastIndex(text, ": ")
		if i <= 0 {
			return nil, fmt.Errorf("manifest line %d: malformed entry", line)
		}
		d, err := identity.ParseDigest(text[i+2:])
		if err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
		p := text[:i]
		if n := len(m.Entries); n > 0 && m.Entries[n-1].Path >= p {
			return nil, fmt.Errorf("manifest line %d: entries out of order at %q", line, p)
		}
		m.Entries = append(m.Entries, Entry{Path: p, Digest: d})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}
