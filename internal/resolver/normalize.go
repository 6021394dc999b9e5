package resolver

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// foldDiacritics decomposes to NFD, drops combining marks, and recomposes,
// so "Atlético" and "Atletico" normalize identically.
var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName standardizes a team name for matching by:
//  1. Trimming whitespace
//  2. Converting to lowercase
//  3. Folding diacritics (é → e, ü → u)
//  4. Stripping punctuation (commas, periods, apostrophes, dashes)
//  5. Collapsing multiple spaces into single spaces
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	name = strings.ToLower(name)

	if folded, _, err := transform.String(foldDiacritics, name); err == nil {
		name = folded
	}

	// Remove common punctuation.
	name = strings.NewReplacer(
		",", "",
		".", "",
		"'", "",
		"\"", "",
		"&", " and ",
		"-", " ",
		"/", " ",
	).Replace(name)

	// Collapse multiple spaces.
	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	return name
}
