// Package report renders reconciliation results for operators.
package report

import (
	"fmt"
	"io"
	"time"

	"go-invoice-stock/internal/service"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "Summary"
	detailSheet  = "Discrepancies"
)

var detailHeadings = []string{"ProductID", "VariantID", "SKU", "Qty", "Baseline", "LedgerSum", "Expected", "Drift"}

// WriteReconcileXLSX writes a summary sheet and one row per discrepancy.
func WriteReconcileXLSX(w io.Writer, rep *service.ReconcileReport, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	f.SetCellValue(summarySheet, "A1", "Generated")
	f.SetCellValue(summarySheet, "B1", generatedAt.UTC().Format(time.RFC3339))
	f.SetCellValue(summarySheet, "A2", "RecordsChecked")
	f.SetCellValue(summarySheet, "B2", rep.Checked)
	f.SetCellValue(summarySheet, "A3", "Discrepancies")
	f.SetCellValue(summarySheet, "B3", len(rep.Discrepancies))

	if _, err := f.NewSheet(detailSheet); err != nil {
		return err
	}
	for i, h := range detailHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		f.SetCellValue(detailSheet, cell, h)
	}
	for i, d := range rep.Discrepancies {
		row := i + 2
		variant := ""
		if d.Record.VariantID != nil {
			variant = d.Record.VariantID.String()
		}
		values := []interface{}{
			d.Record.ProductID.String(),
			variant,
			d.Record.SKU,
			d.Record.Qty,
			d.Record.BaselineQty,
			d.LedgerSum,
			d.Expected,
			d.Record.Qty - d.Expected,
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(detailSheet, cell, v); err != nil {
				return fmt.Errorf("row %d: %w", row, err)
			}
		}
	}

	_, err := f.WriteTo(w)
	return err
}
