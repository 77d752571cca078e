// Package ref defines how recipes and package builds are addressed.
//
// A recipe reference has the textual form:
//
//	name/version[@user/channel][#revision]
//
// and a package reference appends the package identity and its content
// revision:
//
//	name/version[@user/channel]#rrev:package_id#prev
package ref

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidReference is returned when a reference string cannot be parsed.
var ErrInvalidReference = errors.New("invalid reference")

// RecipeReference names a recipe. Revision is optional.
type RecipeReference struct {
	Name     string
	Version  string
	User     string
	Channel  string
	Revision string
}

// ParseRecipe parses name/version[@user/channel][#revision].
func ParseRecipe(s string) (RecipeReference, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return RecipeReference{}, fmt.Errorf("%w: empty", ErrInvalidReference)
	}

	var r RecipeReference
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		r.Revision = raw[i+1:]
		raw = raw[:i]
		if r.Revision == "" {
			return RecipeReference{}, fmt.Errorf("%w: %q: empty revision", ErrInvalidReference, s)
		}
	}
	if i := strings.IndexByte(raw, '@'); i >= 0 {
		uc := raw[i+1:]
		raw = raw[:i]
		user, channel, ok := strings.Cut(uc, "/")
		if !ok || user == "" || channel == "" {
			return RecipeReference{}, fmt.Errorf("%w: %q: expected @user/channel", ErrInvalidReference, s)
		}
		r.User, r.Channel = user, channel
	}
	name, version, ok := strings.Cut(raw, "/")
	if !ok {
		return RecipeReference{}, fmt.Errorf("%w: %q: expected name/version", ErrInvalidReference, s)
	}
	r.Name, r.Version = name, version

	if err := r.Validate(); err != nil {
		return RecipeReference{}, fmt.Errorf("%w (%q)", err, s)
	}
	return r, nil
}

// MustParseRecipe is ParseRecipe for literals known to be valid.
func MustParseRecipe(s string) RecipeReference {
	r, err := ParseRecipe(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate checks every component for allowed characters.
func (r RecipeReference) Validate() error {
	fields := []struct {
		label string
		value string
		need  bool
	}{
		{"name", r.Name, true},
		{"version", r.Version, true},
		{"user", r.User, false},
		{"channel", r.Channel, false},
		{"revision", r.Revision, false},
	}
	for _, f := range fields {
		if f.value == "" {
			if f.need {
				return fmt.Errorf("%w: missing %s", ErrInvalidReference, f.label)
			}
			continue
		}
		if !validToken(f.value) {
			return fmt.Errorf("%w: bad %s %q", ErrInvalidReference, f.label, f.value)
		}
	}
	if (r.User == "") != (r.Channel == "") {
		return fmt.Errorf("%w: user and channel must be set together", ErrInvalidReference)
	}
	return nil
}

func validToken(s string) bool {
	if len(s) > 100 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		case i > 0 && (c == '.' || c == '-' || c == '+'):
		default:
			return false
		}
	}
	return true
}

// String renders the reference, including the revision if one is set.
func (r RecipeReference) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	b.WriteByte('/')
	b.WriteString(r.Version)
	if r.User != "" {
		b.WriteByte('@')
		b.WriteString(r.User)
		b.WriteByte('/')
		b.WriteString(r.Channel)
	}
	if r.Revision != "" {
		b.WriteByte('#')
		b.WriteString(r.Revision)
	}
	return b.String()
}

// WithoutRevision returns a copy with the revision cleared.
func (r RecipeReference) WithoutRevision() RecipeReference {
	r.Revision = ""
	return r
}

// WithRevision returns a copy carrying rev.
func (r RecipeReference) WithRevision(rev string) RecipeReference {
	r.Revision = rev
	return r
}

// SameRecipe reports whether both references name the same recipe,
// ignoring revisions.
func (r RecipeReference) SameRecipe(o RecipeReference) bool {
	return r.WithoutRevision() == o.WithoutRevision()
}

func (r RecipeReference) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RecipeReference) UnmarshalText(b []byte) error {
	parsed, err := ParseRecipe(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// PackageID is the deterministic identity of one package configuration:
// 40 lowercase hex characters.
type PackageID string

// PackageIDLen is the length of a rendered PackageID.
const PackageIDLen = 40

// Valid reports whether id has the canonical form.
func (id PackageID) Valid() bool {
	if len(id) != PackageIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func (id PackageID) String() string { return string(id) }

// PackageReference identifies one materialized package: recipe (with the
// recipe revision), package identity and content revision.
type PackageReference struct {
	Ref      RecipeReference
	ID       PackageID
	Revision string
}

func (p PackageReference) String() string {
	s := p.Ref.String() + ":" + string(p.ID)
	if p.Revision != "" {
		s += "#" + p.Revision
	}
	return s
}

// ParsePackage parses the String form of a PackageReference.
func ParsePackage(s string) (PackageReference, error) {
	recipe, rest, ok := strings.Cut(s, ":")
	if !ok {
		return PackageReference{}, fmt.Errorf("%w: %q: expected recipe:package_id", ErrInvalidReference, s)
	}
	r, err := ParseRecipe(recipe)
	if err != nil {
		return PackageReference{}, err
	}
	id, prev, _ := strings.Cut(rest, "#")
	p := PackageReference{Ref: r, ID: PackageID(id), Revision: prev}
	if !p.ID.Valid() {
		return PackageReference{}, fmt.Errorf("%w: %q: bad package id", ErrInvalidReference, s)
	}
	return p, nil
}

func (p PackageReference) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PackageReference) UnmarshalText(b []byte) error {
	parsed, err := ParsePackage(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
