package buildstep

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"pkgcache/internal/fsutil"
)

// Rule copies files matching Pattern from Src (relative to a build or
// source folder) into Dst (relative to the package folder), keeping their
// path below Src.
//
// A pattern without a slash matches file names at any depth; with a slash
// it matches the whole relative path.
type Rule struct {
	Pattern string
	Src     string
	Dst     string
}

// ParseRule parses "pattern[:src[:dst]]".
func ParseRule(s string) (Rule, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 || parts[0] == "" {
		return Rule{}, fmt.Errorf("invalid copy rule %q: want pattern[:src[:dst]]", s)
	}
	var r Rule
	r.Pattern = parts[0]
	if len(parts) > 1 {
		r.Src = parts[1]
	}
	if len(parts) > 2 {
		r.Dst = parts[2]
	}
	if _, err := path.Match(r.Pattern, ""); err != nil {
		return Rule{}, fmt.Errorf("invalid copy rule %q: %w", s, err)
	}
	for _, p := range []string{r.Src, r.Dst} {
		if filepath.IsAbs(p) || escapes(p) {
			return Rule{}, fmt.Errorf("invalid copy rule %q: %q leaves its folder", s, p)
		}
	}
	return r, nil
}

func (r Rule) String() string {
	return strings.TrimRight(r.Pattern+":"+r.Src+":"+r.Dst, ":")
}

// Apply copies the matches below base into pkgDir and returns how many
// files were copied. A missing Src folder copies nothing.
func (r Rule) Apply(base, pkgDir string) (int, error) {
	root := filepath.Join(base, filepath.FromSlash(r.Src))
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%s is not a directory", root)
	}

	var matches []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if r.matches(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	sort.Strings(matches)

	for _, rel := range matches {
		src := filepath.Join(root, filepath.FromSlash(rel))
		dst := filepath.Join(pkgDir, filepath.FromSlash(r.Dst), filepath.FromSlash(rel))
		st, err := os.Lstat(src)
		if err != nil {
			return 0, err
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return 0, err
		}
		if st.Mode()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(src)
			if err != nil {
				return 0, err
			}
			_ = os.Remove(dst)
			if err := os.Symlink(target, dst); err != nil {
				return 0, err
			}
			continue
		}
		if err := fsutil.CopyFile(src, dst, st.Mode().Perm()); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

func (r Rule) matches(rel string) bool {
	if strings.Contains(r.Pattern, "/") {
		ok, _ := path.Match(r.Pattern, rel)
		return ok
	}
	ok, _ := path.Match(r.Pattern, path.Base(rel))
	return ok
}

func escapes(p string) bool {
	clean := path.Clean(filepath.ToSlash(p))
	return clean == ".." || strings.HasPrefix(clean, "../")
}
