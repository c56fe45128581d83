// Package export renders ledger views as spreadsheets and confirmed
// payments as PDF receipts.
package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"
)

// Pilot is the member data printed on exports
type Pilot struct {
	PilotID int64
	Name    string
	Email   string
}

const (
	summarySheet = "summary"
	ledgerSheet  = "ledger"
)

// LedgerXLSX renders the rows and totals of a ledger view.
func LedgerXLSX(pilot Pilot, view ledger.View) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(ledgerSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Monthly Dues")
	_ = f.SetCellValue(summarySheet, "A3", "Pilot")
	_ = f.SetCellValue(summarySheet, "B3", pilot.Name)
	_ = f.SetCellValue(summarySheet, "A4", "Pilot ID")
	_ = f.SetCellValue(summarySheet, "B4", pilot.PilotID)
	_ = f.SetCellValue(summarySheet, "A5", "Year")
	_ = f.SetCellValue(summarySheet, "B5", view.Filter)
	_ = f.SetCellValue(summarySheet, "A6", "Entries")
	_ = f.SetCellValue(summarySheet, "B6", view.Summary.TotalEntries)
	_ = f.SetCellValue(summarySheet, "A7", "Missing Months")
	_ = f.SetCellValue(summarySheet, "B7", view.Summary.TotalMissingMonths)
	_ = f.SetCellValue(summarySheet, "A8", "Amount Collected")
	_ = f.SetCellValue(summarySheet, "B8", view.Summary.TotalAmountCollected.InexactFloat64())
	_ = f.SetCellValue(summarySheet, "A9", "Generated")
	_ = f.SetCellValue(summarySheet, "B9", view.GeneratedAt.Format(time.RFC3339))

	headers := []string{"Year", "Month", "Amount", "Plan", "Status", "Description", "Batch"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ledgerSheet, cell, h)
	}
	for i, row := range view.Rows {
		r := i + 2
		_ = f.SetCellValue(ledgerSheet, fmt.Sprintf("A%d", r), int(row.ReferenceYear))
		_ = f.SetCellValue(ledgerSheet, fmt.Sprintf("B%d", r), row.ReferenceMonth)
		_ = f.SetCellValue(ledgerSheet, fmt.Sprintf("C%d", r), row.Amount.InexactFloat64())
		_ = f.SetCellValue(ledgerSheet, fmt.Sprintf("D%d", r), string(row.PlanType))
		_ = f.SetCellValue(ledgerSheet, fmt.Sprintf("E%d", r), row.Status.String())
		_ = f.SetCellValue(ledgerSheet, fmt.Sprintf("F%d", r), row.Description)
		if row.Batch != nil {
			_ = f.SetCellValue(ledgerSheet, fmt.Sprintf("G%d", r), row.Batch.Index+1)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReceiptPDF renders a receipt for one confirmed entry.
func ReceiptPDF(pilot Pilot, entry ledger.Entry, issuer string, issuedAt time.Time) ([]byte, error) {
	if entry.Status != ledger.StatusConfirmed {
		return nil, fmt.Errorf("receipt for %s: entry is %s", entry.Key(), entry.Status)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "B", 14)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("%s - Payment Receipt", issuer))
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Pilot: %s (#%d)", pilot.Name, pilot.PilotID))
	pdf.Ln(5)
	if pilot.Email != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Email: %s", pilot.Email))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Issued: %s", issuedAt.Format("2006-01-02 15:04")))
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(40, 6, "Reference", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Plan", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Amount (BRL)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Confirmed", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	pdf.CellFormat(40, 6, fmt.Sprintf("%02d/%d", entry.ReferenceMonth, int(entry.ReferenceYear)), "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, string(entry.PlanType), "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, entry.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
	pdf.CellFormat(50, 6, entry.UpdatedAt.Format("2006-01-02"), "1", 0, "C", false, 0, "")
	pdf.Ln(-1)

	if entry.Description != "" {
		pdf.Ln(4)
		pdf.MultiCell(0, 5, entry.Description, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
