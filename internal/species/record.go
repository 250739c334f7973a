package species

import "strings"

// DefaultScientificField is the column used as the join key to image lookups.
const DefaultScientificField = "Scientific Name"

// Record maps a field name to its value. A missing key means the value is absent.
type Record map[string]string

// Value returns the value of field, or "" when it is absent.
func (r Record) Value(field string) string { return r[field] }

// Blank reports whether field is absent or only whitespace.
func (r Record) Blank(field string) bool {
	v, ok := r[field]
	return !ok || IsBlank(v)
}

// IsBlank reports whether s is empty after trimming.
func IsBlank(s string) bool { return strings.TrimSpace(s) == "" }

// Collection is the immutable set of records loaded at startup.
// Fields holds the field names in the order of the first record.
type Collection struct {
	Fields  []string `json:"fields"`
	Records []Record `json:"records"`
}

func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Records)
}

// HasField reports whether name is one of the collection's fields.
func (c *Collection) HasField(name string) bool {
	if c == nil {
		return false
	}
	for _, f := range c.Fields {
		if f == name {
			return true
		}
	}
	return false
}

// Where returns the records for which keep returns true, in collection order.
func (c *Collection) Where(keep func(Record) bool) []Record {
	if c == nil {
		return nil
	}
	var out []Record
	for _, r := range c.Records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// build keeps only the fields of the first record and drops everything else.
func build(fields []string, rows []Record) *Collection {
	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		known[f] = struct{}{}
	}
	for _, r := range rows {
		for k := range r {
			if _, ok := known[k]; !ok {
				delete(r, k)
			}
		}
	}
	return &Collection{Fields: fields, Records: rows}
}
