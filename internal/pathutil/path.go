// Package pathutil normalizes and joins slash-separated remote paths.
//
// A normalized path always starts with "/" and never ends with "/", except
// for the root itself which is "/". Names are NFC-normalized so that the same
// file name typed on macOS (NFD) and Linux (NFC) maps to one remote path.
package pathutil

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Root is the normalized root path.
const Root = "/"

// Normalize returns the canonical form of p: leading "/", no trailing "/",
// empty and "." segments dropped, ".." resolved without escaping the root.
func Normalize(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return Root
	}

	return "/" + strings.Join(segs, "/")
}

// Join joins any number of path elements and normalizes the result.
// Join(Join(a, b), c) == Join(a, b, c) for all inputs.
func Join(elems ...string) string {
	return Normalize(strings.Join(elems, "/"))
}

// Segments splits p into its normalized, non-empty segments.
func Segments(p string) []string {
	p = norm.NFC.String(p)
	raw := strings.Split(p, "/")
	out := make([]string, 0, len(raw))

	for _, s := range raw {
		switch s {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}

			continue
		}

		out = append(out, s)
	}

	return out
}

// IsRoot reports whether p normalizes to the root.
func IsRoot(p string) bool {
	return Normalize(p) == Root
}

// Parent returns the normalized parent of p. The parent of the root is the root.
func Parent(p string) string {
	segs := Segments(p)
	if len(segs) <= 1 {
		return Root
	}

	return "/" + strings.Join(segs[:len(segs)-1], "/")
}

// Base returns the last segment of p, or "" for the root.
func Base(p string) string {
	segs := Segments(p)
	if len(segs) == 0 {
		return ""
	}

	return segs[len(segs)-1]
}

// Relative returns the normalized path without its leading slash
// ("" for the root). Provider APIs that address items relative to a drive
// root use this form.
func Relative(p string) string {
	return strings.TrimPrefix(Normalize(p), "/")
}

// HasPrefix reports whether p equals prefix or lies beneath it.
// Both arguments are normalized first.
func HasPrefix(p, prefix string) bool {
	p = Normalize(p)
	prefix = Normalize(prefix)

	if prefix == Root {
		return true
	}

	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
