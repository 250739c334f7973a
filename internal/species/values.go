package species

import (
	"sort"
	"strings"
)

// ValueCount is one distinct value of a field and how many records carry it.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Values lists the distinct non-blank values of field, sorted by value.
// Values differing only in case or spacing are merged under the first
// spelling seen.
func (c *Collection) Values(field string) []ValueCount {
	if !c.HasField(field) {
		return nil
	}
	index := map[string]int{}
	out := []ValueCount{}
	for _, r := range c.Records {
		if r.Blank(field) {
			continue
		}
		v := strings.TrimSpace(r.Value(field))
		key := strings.Join(strings.Fields(strings.ToLower(v)), " ")
		if i, ok := index[key]; ok {
			out[i].Count++
			continue
		}
		index[key] = len(out)
		out = append(out, ValueCount{Value: v, Count: 1})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Value) < strings.ToLower(out[j].Value)
	})
	return out
}
