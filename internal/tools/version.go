package tools

import (
	"regexp"
	"strings"
)

var verRe = regexp.MustCompile(`(?i)\bv?(\d+\.\d+(?:\.\d+)?(?:[\w\.-]+)?)\b`)

// ParseVersion pulls the first version-looking token out of tool output,
// preferring the first line ("semgrep 1.50.0", "v20.11.1", "Version 2.3").
func ParseVersion(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	line := strings.Split(s, "\n")[0]
	if m := verRe.FindStringSubmatch(line); len(m) > 1 {
		return m[1]
	}
	if m := verRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return ""
}

// CompareVersions compares two versions best-effort: -1 if a < b, 1 if
// a > b, 0 otherwise. Missing components count as zero and a pre-release
// sorts before its release. Unparseable input compares equal.
func CompareVersions(a, b string) int {
	a, b = NormalizeVersion(a), NormalizeVersion(b)
	if a == "" || b == "" {
		return 0
	}
	ac, apre, _ := strings.Cut(a, "-")
	bc, bpre, _ := strings.Cut(b, "-")
	ap, bp := strings.Split(ac, "."), strings.Split(bc, ".")
	n := max(len(ap), len(bp), 3)
	for i := 0; i < n; i++ {
		av, bv := part(ap, i), part(bp, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	switch {
	case apre != "" && bpre == "":
		return -1
	case apre == "" && bpre != "":
		return 1
	case apre < bpre:
		return -1
	case apre > bpre:
		return 1
	}
	return 0
}

// VersionLess reports a < b.
func VersionLess(a, b string) bool { return CompareVersions(a, b) < 0 }

// NormalizeVersion trims whitespace and a leading "v".
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	return v
}

func part(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	n := 0
	for _, r := range parts[i] {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}
