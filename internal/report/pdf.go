package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
)

// Miss is one wrongly answered species.
type Miss struct {
	Name     string
	Expected map[string]string
}

type Data struct {
	ReportID string
	Date     time.Time
	Correct  int
	Wrong    int
	Misses   []Miss
}

// NewData fills in a fresh report ID and the current date.
func NewData(correct, wrong int, misses []Miss) Data {
	return Data{
		ReportID: uuid.NewString(),
		Date:     time.Now(),
		Correct:  correct,
		Wrong:    wrong,
		Misses:   misses,
	}
}

func GeneratePDF(data Data) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 24)
	pdf.CellFormat(0, 14, "Species Quiz Report", "", 1, "C", false, 0, "")

	total := data.Correct + data.Wrong
	pdf.SetFont("Helvetica", "", 13)
	pdf.CellFormat(0, 8,
		fmt.Sprintf("Correct: %d | Wrong: %d | Total: %d (%.0f%%) | Date: %s",
			data.Correct, data.Wrong, total, pct(data.Correct, total), data.Date.Format("2006-01-02")),
		"", 1, "C", false, 0, "")

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Missed Species", "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(70, 7, "Species", "1", 0, "L", false, 0, "")
	pdf.CellFormat(120, 7, "Expected", "1", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	if len(data.Misses) == 0 {
		pdf.CellFormat(190, 7, "None", "1", 1, "C", false, 0, "")
	}
	for _, m := range data.Misses {
		pdf.CellFormat(70, 7, tr(m.Name), "1", 0, "L", false, 0, "")
		pdf.CellFormat(120, 7, tr(expected(m.Expected)), "1", 1, "L", false, 0, "")
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 9)
	pdf.MultiCell(0, 5,
		"Images and summaries are drawn from Wikimedia Commons, Wikidata and Wikipedia, "+
			"available under their respective free licenses.", "", "C", false)
	pdf.Ln(2)
	pdf.CellFormat(0, 6, "Report ID: "+data.ReportID, "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return buf.Bytes(), nil
}

func pct(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) * 100 / float64(b)
}

// expected renders field answers as "Field: value" pairs sorted by field.
func expected(m map[string]string) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+m[k])
	}
	return strings.Join(parts, "; ")
}
