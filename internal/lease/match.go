package lease

import (
	"strings"
	"unicode/utf8"
)

// Matches reports whether path matches the glob pattern. "**" matches any run
// of characters including "/", "*" any run without "/", "?" one character
// other than "/". The match covers the whole string and is case-sensitive.
// Backslashes are treated as separators on both sides.
func Matches(path, pattern string) bool {
	return matchGlob(normalize(pattern), normalize(path))
}

// Overlaps reports whether two patterns could both match some path. It errs
// on the side of reporting an overlap.
func Overlaps(a, b string) bool {
	a, b = normalize(a), normalize(b)
	if a == b {
		return true
	}

	wa, wb := hasWildcard(a), hasWildcard(b)
	switch {
	case !wa && !wb:
		return false
	case !wa:
		return matchGlob(b, a)
	case !wb:
		return matchGlob(a, b)
	}

	pa, pb := literalPrefix(a), literalPrefix(b)
	if !strings.HasPrefix(pa, pb) && !strings.HasPrefix(pb, pa) {
		return false
	}
	sa, sb := literalSuffix(a), literalSuffix(b)
	return strings.HasSuffix(sa, sb) || strings.HasSuffix(sb, sa)
}

func normalize(s string) string {
	return strings.ReplaceAll(s, `\`, "/")
}

func hasWildcard(p string) bool {
	return strings.ContainsAny(p, "*?")
}

func literalPrefix(p string) string {
	if i := strings.IndexAny(p, "*?"); i >= 0 {
		return p[:i]
	}
	return p
}

func literalSuffix(p string) string {
	if i := strings.LastIndexAny(p, "*?"); i >= 0 {
		return p[i+1:]
	}
	return p
}

func matchGlob(pattern, s string) bool {
	for len(pattern) > 0 {
		switch {
		case strings.HasPrefix(pattern, "**"):
			pattern = strings.TrimLeft(pattern, "*")
			if pattern == "" {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchGlob(pattern, s[i:]) {
					return true
				}
			}
			return false

		case pattern[0] == '*':
			pattern = pattern[1:]
			if pattern == "" {
				return !strings.Contains(s, "/")
			}
			for i := 0; i <= len(s); i++ {
				if matchGlob(pattern, s[i:]) {
					return true
				}
				if i < len(s) && s[i] == '/' {
					break
				}
			}
			return false

		case pattern[0] == '?':
			if s == "" || s[0] == '/' {
				return false
			}
			_, size := utf8.DecodeRuneInString(s)
			pattern, s = pattern[1:], s[size:]

		default:
			if s == "" || pattern[0] != s[0] {
				return false
			}
			pattern, s = pattern[1:], s[1:]
		}
	}
	return s == ""
}
