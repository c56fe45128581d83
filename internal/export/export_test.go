package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var (
	pilot = Pilot{PilotID: 7, Name: "Ana Souza", Email: "ana@cpvl.example"}
	at    = time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
)

func confirmedEntry() ledger.Entry {
	return ledger.Entry{
		PilotID:        7,
		ReferenceYear:  2025,
		ReferenceMonth: 3,
		Amount:         ledger.NewAmount(decimal.NewFromInt(50)),
		PlanType:       ledger.PlanMonthly,
		Status:         ledger.StatusConfirmed,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func TestLedgerXLSX(t *testing.T) {
	view := ledger.BuildView([]ledger.Entry{confirmedEntry()}, ledger.ForYear(2025), 7, ledger.ViewOptions{
		Pricing:   ledger.DefaultPricing(),
		StartYear: 2025,
		Now:       at,
	})

	raw, err := LedgerXLSX(pilot, view)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	name, err := f.GetCellValue(summarySheet, "B3")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", name)

	missing, err := f.GetCellValue(summarySheet, "B7")
	require.NoError(t, err)
	assert.Equal(t, "11", missing)

	rows, err := f.GetRows(ledgerSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 13, "header plus twelve months")
	assert.Equal(t, "Confirmed", rows[3][4])
}

func TestReceiptPDF(t *testing.T) {
	raw, err := ReceiptPDF(pilot, confirmedEntry(), "CPVL", at)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("%PDF")))
}

func TestReceiptPDFRejectsUnconfirmed(t *testing.T) {
	e := confirmedEntry()
	e.Status = ledger.StatusToConfirm

	_, err := ReceiptPDF(pilot, e, "CPVL", at)
	assert.Error(t, err)
}
