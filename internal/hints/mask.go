package hints

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const blank = "____"

// Mask hides every answer in text: whole answer phrases first, then each
// answer word of three or more letters. Matching ignores case and allows a
// plural ending.
func Mask(text string, answers []string) string {
	var terms []string
	for _, a := range answers {
		a = strings.Join(strings.Fields(a), " ")
		if a == "" {
			continue
		}
		terms = append(terms, a)
		for _, w := range strings.Fields(a) {
			w = strings.Trim(w, `.,;:()'"`)
			if utf8.RuneCountInString(w) >= 3 {
				terms = append(terms, w)
			}
		}
	}
	sort.SliceStable(terms, func(i, j int) bool { return len(terms[i]) > len(terms[j]) })

	for _, t := range terms {
		if strings.Trim(t, "_") == "" {
			continue
		}
		// \b only knows ASCII word characters, so the edges are matched
		// explicitly and put back.
		re := regexp.MustCompile(`(^|[^\p{L}\p{N}_])(?i:` + regexp.QuoteMeta(t) + `(?:e?s)?)($|[^\p{L}\p{N}_])`)
		// A match consumes the separator after it, so adjacent occurrences
		// need another pass.
		for {
			masked := re.ReplaceAllString(text, "${1}"+blank+"${2}")
			if masked == text {
				break
			}
			text = masked
		}
	}
	return text
}
