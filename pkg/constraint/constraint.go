// Package constraint implements module version requirements.
//
// A Constraint is a union of version ranges. The accepted syntax covers what
// module metadata and Puppetfiles use in practice:
//
//	1.2.3            exact version
//	1.x, 1.2.x, 1    wildcard / partial versions
//	>= 1.0.0 < 2.0.0 space (or comma) separated conjunction
//	1.0.0 - 2.3      inclusive hyphen range
//	~1.2, ~> 1.2     tilde (patch/minor updates)
//	^1.2.3           caret (no major bump)
//	a || b           disjunction
//
// Two constraints can be intersected exactly, which is what the resolver uses to
// merge requirements and detect conflicts.
package constraint

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrMalformed is wrapped by every parse failure.
var ErrMalformed = errors.New("malformed version constraint")

var (
	comparatorRe = regexp.MustCompile(`^(>=|<=|~>|>|<|=|~|\^)?\s*([^\s,]+)`)
	hyphenRe     = regexp.MustCompile(`^\s*([^\s,]+)\s+-\s+([^\s,]+)\s*$`)
)

// Constraint is an immutable set of acceptable versions.
type Constraint struct {
	raw    string
	ranges []versionRange
}

type bound struct {
	v         *semver.Version
	inclusive bool
}

type versionRange struct {
	lower bound
	upper bound
}

// Any returns the constraint that accepts every version.
func Any() Constraint {
	return Constraint{ranges: []versionRange{{}}}
}

// Exact returns a constraint accepting only the given version.
func Exact(version string) (Constraint, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return Constraint{}, fmt.Errorf("%w: %q: %v", ErrMalformed, version, err)
	}
	b := bound{v: v, inclusive: true}
	return Constraint{raw: version, ranges: []versionRange{{lower: b, upper: b}}}, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Constraint {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse parses a version requirement. The empty string, "*", "latest" and
// "present" all mean any version.
func Parse(s string) (Constraint, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "", "*", "x", "latest", "present":
		c := Any()
		c.raw = trimmed
		return c, nil
	}

	c := Constraint{raw: trimmed}
	for _, alt := range strings.Split(trimmed, "||") {
		r, err := parseConjunction(alt)
		if err != nil {
			return Constraint{}, fmt.Errorf("%w: %q: %v", ErrMalformed, s, err)
		}
		if !r.empty() {
			c.ranges = append(c.ranges, r)
		}
	}
	return c, nil
}

func parseConjunction(s string) (versionRange, error) {
	if m := hyphenRe.FindStringSubmatch(s); m != nil {
		return parseHyphen(m[1], m[2])
	}

	rest := strings.TrimSpace(s)
	if rest == "" {
		return versionRange{}, errors.New("empty range")
	}

	r := versionRange{}
	for rest != "" {
		m := comparatorRe.FindStringSubmatch(rest)
		if m == nil {
			return versionRange{}, fmt.Errorf("unexpected input %q", rest)
		}
		cr, err := parseComparator(m[1], m[2])
		if err != nil {
			return versionRange{}, err
		}
		r = r.intersect(cr)
		rest = strings.TrimLeft(rest[len(m[0]):], " \t,")
	}
	return r, nil
}

func parseHyphen(from, to string) (versionRange, error) {
	lo, err := parsePartial(from)
	if err != nil {
		return versionRange{}, err
	}
	hi, err := parsePartial(to)
	if err != nil {
		return versionRange{}, err
	}

	r := versionRange{}
	if lo.parts > 0 {
		r.lower = bound{v: lo.floor(), inclusive: true}
	}
	switch {
	case hi.exact != nil:
		r.upper = bound{v: hi.exact, inclusive: true}
	case hi.parts > 0:
		r.upper = bound{v: hi.next()}
	}
	return r, nil
}

func parseComparator(op, version string) (versionRange, error) {
	p, err := parsePartial(version)
	if err != nil {
		return versionRange{}, err
	}

	switch op {
	case "", "=":
		if p.parts == 0 {
			return versionRange{}, nil
		}
		if p.exact != nil {
			b := bound{v: p.exact, inclusive: true}
			return versionRange{lower: b, upper: b}, nil
		}
		return versionRange{lower: bound{v: p.floor(), inclusive: true}, upper: bound{v: p.next()}}, nil

	case ">=":
		if p.parts == 0 {
			return versionRange{}, nil
		}
		return versionRange{lower: bound{v: p.floor(), inclusive: true}}, nil

	case ">":
		if p.parts == 0 {
			return versionRange{}, fmt.Errorf("%q cannot follow %s", version, op)
		}
		if p.exact != nil {
			return versionRange{lower: bound{v: p.exact}}, nil
		}
		return versionRange{lower: bound{v: p.next(), inclusive: true}}, nil

	case "<":
		if p.parts == 0 {
			return versionRange{}, fmt.Errorf("%q cannot follow %s", version, op)
		}
		return versionRange{upper: bound{v: p.floor()}}, nil

	case "<=":
		if p.parts == 0 {
			return versionRange{}, fmt.Errorf("%q cannot follow %s", version, op)
		}
		if p.exact != nil {
			return versionRange{upper: bound{v: p.exact, inclusive: true}}, nil
		}
		return versionRange{upper: bound{v: p.next()}}, nil

	case "~", "~>":
		if p.parts == 0 {
			return versionRange{}, nil
		}
		upper := semver.New(p.major, p.minor+1, 0, "", "")
		if p.parts == 1 {
			upper = semver.New(p.major+1, 0, 0, "", "")
		}
		return versionRange{lower: bound{v: p.floor(), inclusive: true}, upper: bound{v: upper}}, nil

	case "^":
		if p.parts == 0 {
			return versionRange{}, nil
		}
		var upper *semver.Version
		switch {
		case p.major > 0 || p.parts == 1:
			upper = semver.New(p.major+1, 0, 0, "", "")
		case p.minor > 0 || p.parts == 2:
			upper = semver.New(0, p.minor+1, 0, "", "")
		default:
			upper = semver.New(0, 0, p.patch+1, "", "")
		}
		return versionRange{lower: bound{v: p.floor(), inclusive: true}, upper: bound{v: upper}}, nil
	}

	return versionRange{}, fmt.Errorf("unknown operator %q", op)
}

// partial is a possibly incomplete version such as "1", "1.2" or "1.x".
type partial struct {
	major, minor, patch uint64
	parts               int
	exact               *semver.Version
}

func parsePartial(s string) (partial, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "=")
	var p partial
	if isWildcard(s) {
		return p, nil
	}

	fields := strings.SplitN(s, ".", 3)
	for i, f := range fields {
		if isWildcard(f) {
			for _, rest := range fields[i+1:] {
				if !isWildcard(rest) {
					return partial{}, fmt.Errorf("invalid version %q", s)
				}
			}
			return p, nil
		}
		if i == 2 {
			v, err := semver.StrictNewVersion(s)
			if err != nil {
				return partial{}, fmt.Errorf("invalid version %q", s)
			}
			p.patch = v.Patch()
			p.parts = 3
			p.exact = v
			return p, nil
		}
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return partial{}, fmt.Errorf("invalid version %q", s)
		}
		if i == 0 {
			p.major = n
		} else {
			p.minor = n
		}
		p.parts = i + 1
	}
	return p, nil
}

func isWildcard(s string) bool {
	return s == "x" || s == "X" || s == "*"
}

func (p partial) floor() *semver.Version {
	if p.exact != nil {
		return p.exact
	}
	return semver.New(p.major, p.minor, p.patch, "", "")
}

func (p partial) next() *semver.Version {
	switch p.parts {
	case 1:
		return semver.New(p.major+1, 0, 0, "", "")
	case 2:
		return semver.New(p.major, p.minor+1, 0, "", "")
	case 3:
		return semver.New(p.major, p.minor, p.patch+1, "", "")
	}
	return nil
}

func (r versionRange) contains(v *semver.Version) bool {
	if r.lower.v != nil {
		c := v.Compare(r.lower.v)
		if c < 0 || (c == 0 && !r.lower.inclusive) {
			return false
		}
	}
	if r.upper.v != nil {
		c := v.Compare(r.upper.v)
		if c > 0 || (c == 0 && !r.upper.inclusive) {
			return false
		}
	}
	return true
}

func (r versionRange) empty() bool {
	if r.lower.v == nil || r.upper.v == nil {
		return false
	}
	c := r.lower.v.Compare(r.upper.v)
	return c > 0 || (c == 0 && !(r.lower.inclusive && r.upper.inclusive))
}

func (r versionRange) unbounded() bool {
	return r.lower.v == nil && r.upper.v == nil
}

func (r versionRange) intersect(o versionRange) versionRange {
	return versionRange{lower: maxLower(r.lower, o.lower), upper: minUpper(r.upper, o.upper)}
}

func maxLower(a, b bound) bound {
	if a.v == nil {
		return b
	}
	if b.v == nil {
		return a
	}
	switch c := a.v.Compare(b.v); {
	case c > 0:
		return a
	case c < 0:
		return b
	}
	return bound{v: a.v, inclusive: a.inclusive && b.inclusive}
}

func minUpper(a, b bound) bound {
	if a.v == nil {
		return b
	}
	if b.v == nil {
		return a
	}
	switch c := a.v.Compare(b.v); {
	case c < 0:
		return a
	case c > 0:
		return b
	}
	return bound{v: a.v, inclusive: a.inclusive && b.inclusive}
}

// IsAny reports whether every version is acceptable.
func (c Constraint) IsAny() bool {
	for _, r := range c.ranges {
		if r.unbounded() {
			return true
		}
	}
	return false
}

// IsEmpty reports whether no version can satisfy the constraint.
func (c Constraint) IsEmpty() bool {
	return len(c.ranges) == 0
}

// Check reports whether v satisfies the constraint.
func (c Constraint) Check(v *semver.Version) bool {
	for _, r := range c.ranges {
		if r.contains(v) {
			return true
		}
	}
	return false
}

// Allows reports whether the version string satisfies the constraint.
// Unparseable versions are only allowed by the any-version constraint.
func (c Constraint) Allows(version string) bool {
	if c.IsAny() {
		return true
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// Intersect returns the constraint accepted by both c and o.
func (c Constraint) Intersect(o Constraint) Constraint {
	if c.IsAny() && !o.IsEmpty() {
		return o
	}
	if o.IsAny() && !c.IsEmpty() {
		return c
	}

	if c.raw != "" && c.raw == o.raw {
		return c
	}

	var out Constraint
	for _, a := range c.ranges {
		for _, b := range o.ranges {
			if r := a.intersect(b); !r.empty() {
				out.ranges = append(out.ranges, r)
			}
		}
	}
	out.raw = out.canonical()
	return out
}

// canonical renders the ranges in a form Parse reads back to the same set.
func (c Constraint) canonical() string {
	parts := make([]string, 0, len(c.ranges))
	for _, r := range c.ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, " || ")
}

func (r versionRange) String() string {
	switch {
	case r.unbounded():
		return "*"
	case r.lower.v != nil && r.upper.v != nil && r.lower.inclusive && r.upper.inclusive && r.lower.v.Equal(r.upper.v):
		return r.lower.v.String()
	}

	var parts []string
	if r.lower.v != nil {
		op := ">"
		if r.lower.inclusive {
			op = ">="
		}
		parts = append(parts, op+r.lower.v.String())
	}
	if r.upper.v != nil {
		op := "<"
		if r.upper.inclusive {
			op = "<="
		}
		parts = append(parts, op+r.upper.v.String())
	}
	return strings.Join(parts, " ")
}

// Select returns the highest version from versions that satisfies c.
func (c Constraint) Select(versions []string) (string, bool) {
	var best *semver.Version
	for _, s := range versions {
		v, err := semver.NewVersion(s)
		if err != nil || !c.Check(v) {
			continue
		}
		if best == nil || v.Compare(best) > 0 {
			best = v
		}
	}
	if best == nil {
		return "", false
	}
	return best.Original(), true
}

// String returns the constraint as written. Intersections are rendered as
// comparator ranges joined by " || ", which Parse reads back unchanged.
func (c Constraint) String() string {
	if c.raw != "" {
		return c.raw
	}
	if c.IsAny() {
		return "*"
	}
	return "<unsatisfiable>"
}

// SortVersions returns the parseable versions in ascending order. Invalid
// entries are dropped.
func SortVersions(versions []string) []string {
	parsed := make(semver.Collection, 0, len(versions))
	for _, s := range versions {
		if v, err := semver.NewVersion(s); err == nil {
			parsed = append(parsed, v)
		}
	}
	sort.Sort(parsed)

	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.Original()
	}
	return out
}
