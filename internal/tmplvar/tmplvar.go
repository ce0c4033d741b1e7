// Package tmplvar expands "$name"/"${name}" placeholders the way
// Python's string.Template.substitute does, used by both rpm.FindRepository
// and deb.FindRepository to resolve BASEURL-style configuration
// templates against values parsed from a package filename.
package tmplvar

import (
	"fmt"
	"regexp"
)

var pattern = regexp.MustCompile(`\$\{(\w+)\}|\$(\w+)`)

// Expand substitutes every "$name"/"${name}" reference in s with
// vars[name], returning an error naming the first variable that has
// no entry in vars.
func Expand(s string, vars map[string]string) (string, error) {
	var missing string
	result := pattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := pattern.FindStringSubmatch(match)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		v, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("tmplvar: missing variable %q", missing)
	}
	return result, nil
}

// Contains reports whether s references name as a "$name" or
// "${name}" placeholder.
func Contains(s, name string) bool {
	for _, m := range pattern.FindAllStringSubmatch(s, -1) {
		if m[1] == name || m[2] == name {
			return true
		}
	}
	return false
}
