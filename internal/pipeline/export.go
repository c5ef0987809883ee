package pipeline

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"matchdesk/internal"
)

// WriteCSV streams the document's review result as CSV: one header line,
// then one line per match pairing the item description with the display
// name of the confirmed choice (empty when unconfirmed). Rows come off a
// database cursor, so memory stays flat regardless of document size.
func (s *Service) WriteCSV(w io.Writer, documentID int) error {
	if _, err := io.WriteString(w, "description,confirmed_choice\n"); err != nil {
		return err
	}

	return s.db.ForEachExportRow(documentID, func(row internal.ExportRow) error {
		confirmed := ""
		if row.ConfirmedID != nil && *row.ConfirmedID >= 0 && *row.ConfirmedID < len(row.Choices) {
			confirmed = row.Choices[*row.ConfirmedID].Name
		}
		_, err := fmt.Fprintf(w, "\"%s\",\"%s\"\n", escapeCSV(row.Description), escapeCSV(confirmed))
		return err
	})
}

// escapeCSV doubles embedded double quotes per CSV convention.
func escapeCSV(s string) string {
	return strings.ReplaceAll(s, `"`, `""`)
}

// WriteXLSX renders the same export as a workbook, with the confidence
// score and the top candidate alongside each confirmed choice.
func (s *Service) WriteXLSX(w io.Writer, documentID int) error {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	headers := []string{"description", "confirmed_choice", "confidence_score", "top_choice", "top_score"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	r := 1
	err := s.db.ForEachExportRow(documentID, func(row internal.ExportRow) error {
		r++
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		confirmed := ""
		if row.ConfirmedID != nil && *row.ConfirmedID >= 0 && *row.ConfirmedID < len(row.Choices) {
			confirmed = row.Choices[*row.ConfirmedID].Name
		}
		topChoice := ""
		topScore := 0.0
		if len(row.Choices) > 0 {
			topChoice = row.Choices[0].Name
			topScore = row.Choices[0].Score
		}

		set(1, row.Description)
		set(2, confirmed)
		set(3, derefFloat(row.Confidence))
		set(4, topChoice)
		set(5, topScore)
		return nil
	})
	if err != nil {
		return err
	}

	_, err = f.WriteTo(w)
	return err
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
