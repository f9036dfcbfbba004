package api

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/warp/credit-ledger/ledger"
)

// BuildStatementPDF renders a customer statement as a one-table PDF.
func BuildStatementPDF(stmt ledger.Statement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Customer Ledger")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Customer: %s", stmt.CustomerName))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Outstanding balance: %s", stmt.OutstandingBalance))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(25, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(70, 6, "Description", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Debit", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Credit", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Balance", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, l := range stmt.Lines {
		pdf.CellFormat(25, 6, l.Date.String(), "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, l.Description, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, blankIfZero(l.Debit), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, blankIfZero(l.Credit), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, l.Balance.String(), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a customer statement as a workbook with a
// summary sheet and a lines sheet. Amounts are written as text so the
// spreadsheet shows exactly what the ledger holds.
func BuildStatementXLSX(stmt ledger.Statement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	summarySheet := "summary"
	linesSheet := "ledger"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Customer Ledger")
	_ = f.SetCellValue(summarySheet, "A3", "Customer")
	_ = f.SetCellValue(summarySheet, "B3", stmt.CustomerName)
	_ = f.SetCellValue(summarySheet, "A4", "Outstanding balance")
	_ = f.SetCellValue(summarySheet, "B4", stmt.OutstandingBalance.String())

	for i, h := range []string{"Date", "Description", "Debit", "Credit", "Balance"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(linesSheet, cell, h)
	}
	for i, l := range stmt.Lines {
		row := i + 2
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("A%d", row), l.Date.String())
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("B%d", row), l.Description)
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("C%d", row), blankIfZero(l.Debit))
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("D%d", row), blankIfZero(l.Credit))
		_ = f.SetCellValue(linesSheet, fmt.Sprintf("E%d", row), l.Balance.String())
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func blankIfZero(m ledger.Money) string {
	if m.IsZero() {
		return ""
	}
	return m.String()
}
