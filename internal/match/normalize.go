package match

import (
	"regexp"
	"strings"
)

// ROM release names carry tagging conventions that defeat plain string
// comparison: region and dump-status groups in parentheses or brackets,
// version tokens, and a mix of separator characters. Normalize reduces a
// name to the part worth comparing.
var (
	// reTagGroup matches one parenthetical or bracketed tag.
	reTagGroup = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)

	// reVersion matches version tokens: v-prefixed numbers and dotted
	// number groups. Bare integers stay; they are usually part of the
	// title. Underscores and hyphens must already be spaces so the word
	// boundary can see a token like "_v1.2".
	reVersion = regexp.MustCompile(`\bv?\d+(?:\.\d+)+\b|\bv\d+\b`)
)

// Normalize reduces a ROM or patch name to comparable form: release tags
// and version tokens are stripped, separators become spaces, whitespace
// collapses, and the result is lowercased. Pass the name without its file
// extension.
func Normalize(name string) string {
	s := strings.ToLower(name)
	s = reTagGroup.ReplaceAllString(s, " ")
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	s = reVersion.ReplaceAllString(s, " ")
	s = strings.ReplaceAll(s, ".", " ")
	return strings.Join(strings.Fields(s), " ")
}
