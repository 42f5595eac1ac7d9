package ticket

import (
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeTags parses a comma-separated string of custom tags. Each
// entry is trimmed, lowercased and internal whitespace runs collapse to
// a single hyphen; empty results are dropped and duplicates within the
// batch are removed, preserving first-seen order.
//
//	NormalizeTags("foo, Foo , BAR baz") == []string{"foo", "bar-baz"}
func NormalizeTags(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		tag = whitespaceRun.ReplaceAllString(tag, "-")
		if tag == "" || contains(out, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}
