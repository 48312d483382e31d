// Package ids implements the storage-ID space: paths and content hashes,
// the key space shared by path-bound values and content-addressed blobs.
package ids

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/quietloom/revstore/pkg/errors"
)

// pathGrammar matches "(/[A-Za-z0-9_]+)+", e.g. "/foo/bar/0".
var pathGrammar = regexp.MustCompile(`^(/[A-Za-z0-9_]+)+$`)

// IsValidPath reports whether p matches the path grammar.
func IsValidPath(p string) bool {
	return pathGrammar.MatchString(p)
}

// NewPath validates p against the path grammar, returning a badValue error
// if it does not conform.
func NewPath(p string) (string, error) {
	if !IsValidPath(p) {
		return "", errors.NewBadValuef("path", "%q does not match the path grammar", p)
	}
	return p, nil
}

// IsValidPrefixPath reports whether p is usable as a deletePathPrefix /
// deletePathRange prefix argument: either a grammar-conforming path, or the
// literal root "/", which is not itself a storage ID (the grammar requires
// at least one segment) but is a legal "everything under the path
// hierarchy" prefix, so deletePathPrefix("/") means "erase every path
// binding".
func IsValidPrefixPath(p string) bool {
	return p == "/" || IsValidPath(p)
}

// components splits a path into its segments; the root "/" has zero
// components, so every other valid path is trivially "below" it.
func components(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// NewPrefixPath validates p as a deletePathPrefix/deletePathRange prefix
// argument (grammar-conforming path, or the literal root "/").
func NewPrefixPath(p string) (string, error) {
	if !IsValidPrefixPath(p) {
		return "", errors.NewBadValuef("path", "%q is not a valid prefix path", p)
	}
	return p, nil
}

// IsPrefix reports whether a is a prefix of b in the path hierarchy: every
// component of a matches the corresponding component of b, and b has at
// least one more component than a.
func IsPrefix(a, b string) bool {
	ca, cb := components(a), components(b)
	if len(ca) >= len(cb) {
		return false
	}
	for i := range ca {
		if ca[i] != cb[i] {
			return false
		}
	}
	return true
}

// EqualOrPrefix reports whether b equals a or a is a prefix of b. This is
// the predicate deletePathPrefix uses to select survivors for erasure.
func EqualOrPrefix(a, b string) bool {
	return b == a || IsPrefix(a, b)
}

// Hash is a content fingerprint: deterministic, fixed-width, hex-encoded.
type Hash string

// HashOf computes the content-addressed fingerprint of buf using xxhash,
// the fast, deterministic 64-bit fingerprint already present in this
// module's dependency graph (pulled in by pebble).
func HashOf(buf []byte) Hash {
	sum := xxhash.Sum64(buf)
	s := strconv.FormatUint(sum, 16)
	return Hash(strings.Repeat("0", 16-len(s)) + s)
}

// IsValidHash reports whether s is a syntactically plausible hash: lowercase
// hex, non-empty.
func IsValidHash(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// NewHash validates s as a hash literal (used when a hash arrives from the
// wire rather than being derived from a buffer via HashOf).
func NewHash(s string) (Hash, error) {
	if !IsValidHash(s) {
		return "", errors.NewBadValuef("hash", "%q is not a valid content hash", s)
	}
	return Hash(s), nil
}

// LeafInt parses the last path component below prefix as a non-negative
// decimal integer, the representation range operations require: leading
// zeros other than the literal "0" are rejected so that "/x/0" and "/x/00"
// are not treated as the same storage ID aliasing two different keys.
func LeafInt(prefix, fullPath string) (int64, bool) {
	cp, cf := components(prefix), components(fullPath)
	if len(cf) != len(cp)+1 {
		return 0, false
	}
	for i := range cp {
		if cp[i] != cf[i] {
			return 0, false
		}
	}
	leaf := cf[len(cf)-1]
	if leaf != "0" && strings.HasPrefix(leaf, "0") {
		return 0, false
	}
	n, err := strconv.ParseInt(leaf, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// PathInRange reports whether fullPath is prefix/<k> for k in [start, end).
func PathInRange(prefix, fullPath string, start, end int64) bool {
	n, ok := LeafInt(prefix, fullPath)
	return ok && n >= start && n < end
}
