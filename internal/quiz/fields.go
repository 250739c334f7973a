package quiz

import "psp.com/species-quiz/backend/internal/species"

// EligibleFields returns the enabled fields, in the order of fields, that are
// not blank on rec.
func EligibleFields(fields []string, enabled map[string]bool, rec species.Record) []string {
	out := []string{}
	for _, f := range fields {
		if enabled[f] && !rec.Blank(f) {
			out = append(out, f)
		}
	}
	return out
}

// BlankFields returns the enabled fields that are blank on rec. These are
// disabled for the current question only.
func BlankFields(fields []string, enabled map[string]bool, rec species.Record) []string {
	out := []string{}
	for _, f := range fields {
		if enabled[f] && rec.Blank(f) {
			out = append(out, f)
		}
	}
	return out
}
