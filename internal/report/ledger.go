// Package report renders inventory data as spreadsheet downloads.
package report

import (
	"bytes"
	"fmt"

	"medsales/internal/model"

	"github.com/xuri/excelize/v2"
)

const ledgerSheet = "Ledger"

var ledgerHeader = []string{
	"Date", "Transaction Type", "Product ID", "Inventory ID", "Batch Number",
	"Quantity", "Delta", "Quantity After", "From", "To",
	"Reference Type", "Reference ID", "Notes", "Created By",
}

var ledgerWidths = []float64{20, 16, 38, 38, 16, 10, 10, 14, 16, 16, 14, 38, 40, 38}

// LedgerWorkbook writes one row per transaction under a frozen header row.
func LedgerWorkbook(txs []model.ProductInventoryTransaction) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ledgerSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to drop default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, title := range ledgerHeader {
		if err := setCell(f, col+1, 1, title); err != nil {
			return nil, err
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(ledgerSheet, name, name, ledgerWidths[col]); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(ledgerHeader), 1)
	if err := f.SetCellStyle(ledgerSheet, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}

	for i, tx := range txs {
		row := i + 2
		refID, createdBy := "", ""
		if tx.Reference.ID != nil {
			refID = tx.Reference.ID.String()
		}
		if tx.CreatedBy != nil {
			createdBy = tx.CreatedBy.String()
		}

		values := []interface{}{
			tx.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			string(tx.TransactionType),
			tx.ProductID.String(),
			tx.InventoryID.String(),
			tx.BatchNumber,
			tx.Quantity,
			tx.QuantityDelta,
			tx.QuantityAfter,
			tx.LocationFrom,
			tx.LocationTo,
			string(tx.Reference.Kind),
			refID,
			tx.Notes,
			createdBy,
		}
		for col, v := range values {
			if err := setCell(f, col+1, row, v); err != nil {
				return nil, err
			}
		}
	}

	if err := f.SetPanes(ledgerSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellValue(ledgerSheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}
