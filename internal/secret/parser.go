package secret

import (
	"fmt"
	"regexp"
	"strings"
)

// refRegex matches ${type:name} patterns
var refRegex = regexp.MustCompile(`\$\{([^:}]+):([^}]+)\}`)

// ParseRef parses the first secret reference in input
func ParseRef(input string) (*Ref, error) {
	matches := refRegex.FindStringSubmatch(input)
	if len(matches) != 3 {
		return nil, fmt.Errorf("invalid secret reference format: %s", input)
	}

	return &Ref{
		Type:     strings.TrimSpace(matches[1]),
		Name:     strings.TrimSpace(matches[2]),
		Original: matches[0],
	}, nil
}

// IsRef returns true if the string contains a secret reference
func IsRef(input string) bool {
	return refRegex.MatchString(input)
}

// FindRefs finds all secret references in a string
func FindRefs(input string) []Ref {
	matches := refRegex.FindAllStringSubmatch(input, -1)
	refs := make([]Ref, 0, len(matches))
	for _, match := range matches {
		refs = append(refs, Ref{
			Type:     strings.TrimSpace(match[1]),
			Name:     strings.TrimSpace(match[2]),
			Original: match[0],
		})
	}
	return refs
}

// MaskValue masks a secret value for logs and CLI output
func MaskValue(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "****" + value[len(value)-2:]
}
