package species

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrEmpty             = errors.New("species data contains no records")
	ErrUnsupportedFormat = errors.New("unsupported species data format")
)

// Load reads a species list from path. The format is chosen by extension:
// .json (array of objects), .csv (header row) or .xlsx (first sheet, header row).
func Load(path string) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load species %s: %w", path, err)
	}
	defer f.Close()

	var c *Collection
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		c, err = DecodeJSON(f)
	case ".csv":
		c, err = DecodeCSV(f)
	case ".xlsx":
		c, err = DecodeXLSX(f)
	default:
		err = ErrUnsupportedFormat
	}
	if err != nil {
		return nil, fmt.Errorf("load species %s: %w", path, err)
	}
	return c, nil
}

// DecodeJSON reads an array of flat objects. Key order of the first object
// defines the field order, which is why the stream is walked token by token.
func DecodeJSON(r io.Reader) (*Collection, error) {
	br := bufio.NewReader(r)
	if ch, _, err := br.ReadRune(); err == nil && ch != '\ufeff' {
		br.UnreadRune()
	}
	dec := json.NewDecoder(br)
	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	var fields []string
	var rows []Record
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		rec := Record{}
		var order []string
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected token %v", tok)
			}
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, err
			}
			order = append(order, key)
			if v, present := scalar(raw); present {
				rec[key] = v
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		if rows == nil {
			fields = dedupe(order)
		}
		rows = append(rows, rec)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return build(fields, rows), nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

// scalar turns a JSON value into a field value. null is treated as absent.
func scalar(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
	}
	return string(raw), true
}

// DecodeCSV reads a header row followed by records.
func DecodeCSV(r io.Reader) (*Collection, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

// DecodeXLSX reads the first sheet of a workbook, header row first.
func DecodeXLSX(r io.Reader) (*Collection, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func fromRows(rows [][]string) (*Collection, error) {
	if len(rows) < 2 {
		return nil, ErrEmpty
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var recs []Record
	for _, row := range rows[1:] {
		if emptyRow(row) {
			continue
		}
		rec := Record{}
		for i, h := range header {
			if h == "" {
				continue
			}
			if _, seen := rec[h]; seen {
				continue
			}
			if i < len(row) {
				rec[h] = row[i]
			}
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, ErrEmpty
	}

	var fields []string
	for _, h := range header {
		if h != "" {
			fields = append(fields, h)
		}
	}
	return build(dedupe(fields), recs), nil
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if !IsBlank(c) {
			return false
		}
	}
	return true
}

func dedupe(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
