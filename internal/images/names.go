package images

import (
	"regexp"
	"strings"
	"unicode"
)

// qualifiers are removed from a scientific name before it is split into tokens.
var qualifiers = []*regexp.Regexp{
	regexp.MustCompile(`\([^)]*\)?`), // (Linnaeus, 1758), (Subgenus)
	regexp.MustCompile(`\[[^\]]*\]?`), // [sic]
}

// year matches the date that closes an author citation, e.g. "1758,".
var year = regexp.MustCompile(`^\d{4}[,;:]?$`)

// CanonicalName reduces a scientific name to "Genus species": qualifiers in
// brackets are dropped and so is everything after the epithet. A capitalised
// second token is kept unless it reads as an author citation, i.e. it ends in
// a comma or is followed by a year.
func CanonicalName(name string) string {
	for _, re := range qualifiers {
		name = re.ReplaceAllString(name, " ")
	}
	tokens := strings.Fields(name)
	if len(tokens) == 0 {
		return ""
	}
	genus := trimToken(tokens[0])
	if len(tokens) == 1 || genus == "" {
		return genus
	}
	if !isEpithet(tokens[1:]) {
		return genus
	}
	return genus + " " + trimToken(tokens[1])
}

func trimToken(t string) string {
	return strings.TrimRight(t, ",;:")
}

// isEpithet reports whether the first of rest is a species epithet rather than
// a citation connector or an author name.
func isEpithet(rest []string) bool {
	raw := rest[0]
	t := trimToken(raw)
	if t == "" {
		return false
	}
	switch strings.ToLower(t) {
	case "&", "and", "et", "ex", "in", "al.", "non":
		return false
	}
	first := []rune(t)[0]
	if !unicode.IsLetter(first) {
		return false
	}
	if unicode.IsLower(first) {
		return true
	}
	if strings.HasSuffix(raw, ",") {
		return false
	}
	return len(rest) < 2 || !year.MatchString(rest[1])
}
