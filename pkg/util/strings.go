package util

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// SanitizeFilename reduces an uploaded filename to a safe base name:
// path separators are stripped and anything outside letters, digits,
// dot, dash and underscore is replaced with "_".
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSpace(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	cleaned := strings.Trim(b.String(), "._")
	for strings.Contains(cleaned, "..") {
		cleaned = strings.ReplaceAll(cleaned, "..", ".")
	}
	return cleaned
}

// HasAllowedExtension reports whether name carries one of the allowed
// (lower-case, dot-free) extensions.
func HasAllowedExtension(name string, allowed []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if ext == strings.ToLower(strings.TrimSpace(a)) {
			return true
		}
	}
	return false
}

// FileStem returns the file name without directory or extension.
func FileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Str2List splits a separated string into trimmed, de-duplicated elements.
func Str2List(str string, sep string) []string {
	list := make([]string, 0)

	if str == "" {
		return list
	}

	seen := make(map[string]bool)
	for _, elem := range strings.Split(str, sep) {
		elem = strings.TrimSpace(elem)
		if len(elem) == 0 {
			continue
		}
		if seen[elem] {
			continue
		}
		seen[elem] = true
		list = append(list, elem)
	}

	return list
}

// ParseIntList parses a separated string of integers, skipping invalid entries.
func ParseIntList(str string, sep string) []int {
	out := make([]int, 0)
	for _, elem := range Str2List(str, sep) {
		if n, err := strconv.Atoi(elem); err == nil {
			out = append(out, n)
		}
	}
	return out
}
