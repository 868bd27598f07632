package recipe

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Range is a version range in recipe syntax:
//
//	""       any version
//	"1.2"    1.2 or any 1.2.x
//	"1.2:"   1.2 or later
//	":3"     up to and including any 3.x
//	"1.2:3"  between 1.2 and any 3.x, inclusive
type Range string

// Check reports whether r is well formed.
func (r Range) Check() error {
	if r == "" {
		return nil
	}
	if strings.Count(string(r), ":") > 1 {
		return fmt.Errorf("invalid version range %q", string(r))
	}
	lo, hi, isRange := r.bounds()
	if !isRange {
		return checkVersion(lo)
	}
	if lo == "" && hi == "" {
		return nil
	}
	for _, v := range []string{lo, hi} {
		if v == "" {
			continue
		}
		if err := checkVersion(v); err != nil {
			return fmt.Errorf("invalid version range %q: %w", string(r), err)
		}
	}
	if lo != "" && hi != "" && Compare(lo, hi) > 0 && !prefixOf(lo, hi) {
		return fmt.Errorf("invalid version range %q: lower bound above upper bound", string(r))
	}
	return nil
}

// Contains reports whether version v lies in r.
func (r Range) Contains(v string) bool {
	if r == "" {
		return true
	}
	lo, hi, isRange := r.bounds()
	if !isRange {
		return prefixOf(v, lo)
	}
	if lo != "" && Compare(v, lo) < 0 {
		return false
	}
	if hi != "" && Compare(v, hi) > 0 && !prefixOf(v, hi) {
		return false
	}
	return true
}

// Intersects reports whether some version could lie in both r and o.
func (r Range) Intersects(o Range) bool {
	if r == "" || o == "" {
		return true
	}
	rlo, rhi := r.interval()
	olo, ohi := o.interval()
	return !below(rhi, olo) && !below(ohi, rlo)
}

func (r Range) bounds() (lo, hi string, isRange bool) {
	lo, hi, isRange = strings.Cut(string(r), ":")
	return
}

// interval returns r as closed bounds; an exact version is its own bounds.
func (r Range) interval() (lo, hi string) {
	lo, hi, isRange := r.bounds()
	if !isRange {
		hi = lo
	}
	return lo, hi
}

// below reports whether upper bound hi lies strictly below lower bound lo.
// Empty bounds are unbounded.
func below(hi, lo string) bool {
	if hi == "" || lo == "" {
		return false
	}
	return Compare(hi, lo) < 0 && !prefixOf(lo, hi)
}

// prefixOf reports whether v equals p or extends it with more components.
func prefixOf(v, p string) bool {
	return v == p || strings.HasPrefix(v, p+".")
}

// Compare compares two version strings and returns -1, 0 or +1. Semantic
// versions compare by semver rules; anything else compares component-wise,
// numerically where both components are numbers.
func Compare(a, b string) int {
	if sa, sb := "v"+a, "v"+b; semver.IsValid(sa) && semver.IsValid(sb) {
		return semver.Compare(sa, sb)
	}
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareComponent(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return +1
	}
	return 0
}

func compareComponent(a, b string) int {
	an, aerr := strconv.ParseUint(a, 10, 64)
	bn, berr := strconv.ParseUint(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return +1
		}
		return 0
	case aerr == nil:
		return +1 // numbers sort after words: 1.0.rc < 1.0.1
	case berr == nil:
		return -1
	}
	return strings.Compare(a, b)
}

func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("empty version")
	}
	if strings.ContainsAny(v, " \t\n@:,/\\") {
		return fmt.Errorf("invalid version %q", v)
	}
	// A version is part of the install root name and must stay one path
	// element.
	if v == "." || v == ".." || !filepath.IsLocal(v) {
		return fmt.Errorf("invalid version %q", v)
	}
	return nil
}
