package api_test

import (
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cpvl/dues-server/internal/api/testutils"
	"github.com/cpvl/dues-server/internal/events"
	"github.com/cpvl/dues-server/internal/ledger"
	"github.com/cpvl/dues-server/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entriesResponse struct {
	Status string         `json:"status"`
	Data   []ledger.Entry `json:"data"`
}

type viewResponse struct {
	Status string      `json:"status"`
	Data   ledger.View `json:"data"`
}

func createNotice(t *testing.T, testCtx *testutils.TestContext, token string, pilotID int64, year, month int, plan ledger.PlanType, createdAt time.Time) {
	t.Helper()
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/paymentMonthly", models.CreatePaymentRequest{
		PilotID:        pilotID,
		ReferenceYear:  ledger.Year(year),
		ReferenceMonth: month,
		PlanType:       plan,
		Status:         "ToConfirm",
		CreatedAt:      &createdAt,
	}, testutils.AuthHeaders(token))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestCreatePayment(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	year := time.Now().Year()
	pilotID := testCtx.Pilot.PilotID

	// Test case 1: Successful notice entry
	w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/paymentMonthly", models.CreatePaymentRequest{
		PilotID:        pilotID,
		ReferenceYear:  ledger.Year(year),
		ReferenceMonth: 1,
		PlanType:       ledger.PlanMonthly,
	}, testutils.AuthHeaders(testCtx.PilotJWT))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.PaymentResponse
	testutils.DecodeJSON(t, w, &created)
	assert.Equal(t, ledger.StatusToConfirm, created.Payment.Status)
	assert.Equal(t, "50", created.Payment.Amount.Decimal.String())
	require.NotNil(t, created.Payment.ID)

	// Test case 2: Legacy payloads with a string year and Portuguese plan name
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/paymentMonthly", map[string]interface{}{
		"pilotId":        pilotID,
		"referenceYear":  fmt.Sprint(year),
		"referenceMonth": 2,
		"planType":       "mensal",
	}, testutils.AuthHeaders(testCtx.PilotJWT))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Test case 3: Invalid request (missing plan)
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/paymentMonthly", map[string]interface{}{
		"pilotId":        pilotID,
		"referenceYear":  year,
		"referenceMonth": 3,
	}, testutils.AuthHeaders(testCtx.PilotJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 4: Another pilot's ledger
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/paymentMonthly", models.CreatePaymentRequest{
		PilotID:        testCtx.Admin.PilotID,
		ReferenceYear:  ledger.Year(year),
		ReferenceMonth: 1,
		PlanType:       ledger.PlanMonthly,
	}, testutils.AuthHeaders(testCtx.PilotJWT))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Test case 5: Unauthorized request (no token)
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/paymentMonthly", created, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d?year=%d", pilotID, year), nil,
		testutils.AuthHeaders(testCtx.PilotJWT))
	require.Equal(t, http.StatusOK, w.Code)

	var list entriesResponse
	testutils.DecodeJSON(t, w, &list)
	assert.Len(t, list.Data, 2)
}

func TestLedgerViewBatches(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	year := time.Now().Year()
	pilotID := testCtx.Pilot.PilotID
	noticeAt := time.Now().UTC()

	for _, m := range []int{4, 5, 6} {
		createNotice(t, testCtx, testCtx.PilotJWT, pilotID, year, m, ledger.PlanQuarterly, noticeAt)
	}

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d/view?year=%d", pilotID, year), nil,
		testutils.AuthHeaders(testCtx.PilotJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view viewResponse
	testutils.DecodeJSON(t, w, &view)
	assert.Len(t, view.Data.Rows, 12)
	assert.Equal(t, 9, view.Data.Summary.TotalMissingMonths)
	require.Len(t, view.Data.Batches, 1)
	assert.Len(t, view.Data.Batches[0], 3)

	first := view.Data.Rows[3]
	require.NotNil(t, first.Batch)
	assert.True(t, first.Batch.First)
	assert.Equal(t, 3, first.Batch.Size)
	assert.True(t, view.Data.Rows[0].Placeholder)

	// every year view has no placeholders
	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d/view?year=all", pilotID), nil,
		testutils.AuthHeaders(testCtx.PilotJWT))
	require.Equal(t, http.StatusOK, w.Code)
	testutils.DecodeJSON(t, w, &view)
	assert.Len(t, view.Data.Rows, 3)
	assert.False(t, view.Data.Summary.YearScoped)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d/view?year=soon", pilotID), nil,
		testutils.AuthHeaders(testCtx.PilotJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLedgerViewRequiresAffiliation(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	pending, token := testCtx.CreatePilot(t, "pending@example.com", ledger.PilotPending)

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d/view", pending.PilotID), nil,
		testutils.AuthHeaders(token))
	assert.Equal(t, http.StatusForbidden, w.Code)

	var resp models.ErrorResponse
	testutils.DecodeJSON(t, w, &resp)
	assert.Equal(t, "PILOT_NOT_AFFILIATED", resp.Code)

	// the admin affiliates the pilot
	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, fmt.Sprintf("/pilots/%d/status", pending.PilotID),
		models.UpdatePilotStatusRequest{Status: "filiado"}, testutils.AuthHeaders(testCtx.AdminJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d/view", pending.PilotID), nil,
		testutils.AuthHeaders(token))
	assert.Equal(t, http.StatusOK, w.Code)

	// pilots cannot change statuses
	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, fmt.Sprintf("/pilots/%d/status", pending.PilotID),
		models.UpdatePilotStatusRequest{Status: "expulso"}, testutils.AuthHeaders(token))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConfirmPayments(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	year := time.Now().Year()
	pilotID := testCtx.Pilot.PilotID
	noticeAt := time.Now().UTC()

	for _, m := range []int{1, 2, 3} {
		createNotice(t, testCtx, testCtx.PilotJWT, pilotID, year, m, ledger.PlanQuarterly, noticeAt)
	}
	createNotice(t, testCtx, testCtx.PilotJWT, pilotID, year, 4, ledger.PlanMonthly, noticeAt)

	single := models.PaymentKeyRequest{PilotID: pilotID, ReferenceYear: ledger.Year(year), ReferenceMonth: 4}

	// Test case 1: Pilots cannot confirm
	w := testutils.PerformRequest(testCtx.Router, http.MethodPatch, "/paymentMonthly/confirmPayment", single,
		testutils.AuthHeaders(testCtx.PilotJWT))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Test case 2: Single confirmation
	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, "/paymentMonthly/confirmPayment", single,
		testutils.AuthHeaders(testCtx.AdminJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var confirmed models.PaymentResponse
	testutils.DecodeJSON(t, w, &confirmed)
	assert.Equal(t, ledger.StatusConfirmed, confirmed.Payment.Status)

	// Test case 3: Batch confirmation
	batch := models.ConfirmBatchRequest{}
	for _, m := range []int{1, 2, 3} {
		batch.Payments = append(batch.Payments, models.PaymentKeyRequest{PilotID: pilotID, ReferenceYear: ledger.Year(year), ReferenceMonth: m})
	}
	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, "/paymentMonthly/confirmPaymentBatch", batch,
		testutils.AuthHeaders(testCtx.AdminJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var batchResp models.ConfirmBatchResponse
	testutils.DecodeJSON(t, w, &batchResp)
	require.Len(t, batchResp.Payments, 3)
	for _, e := range batchResp.Payments {
		assert.Equal(t, ledger.StatusConfirmed, e.Status)
	}

	// Test case 4: Empty batch
	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, "/paymentMonthly/confirmPaymentBatch", models.ConfirmBatchRequest{},
		testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 5: A confirmed month can no longer be resubmitted
	w = testutils.PerformRequest(testCtx.Router, http.MethodPost, "/paymentMonthly", models.CreatePaymentRequest{
		PilotID:        pilotID,
		ReferenceYear:  ledger.Year(year),
		ReferenceMonth: 1,
		PlanType:       ledger.PlanMonthly,
	}, testutils.AuthHeaders(testCtx.PilotJWT))
	assert.Equal(t, http.StatusConflict, w.Code)

	var types []string
	for _, evt := range testCtx.Publisher.Events() {
		types = append(types, evt.Type)
	}
	assert.Contains(t, types, events.TypePaymentConfirmed)
}

func TestDeleteAndPurgePayments(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	year := time.Now().Year()
	pilotID := testCtx.Pilot.PilotID
	for _, m := range []int{1, 2, 3} {
		createNotice(t, testCtx, testCtx.PilotJWT, pilotID, year, m, ledger.PlanMonthly, time.Now().UTC())
	}

	path := fmt.Sprintf("/paymentMonthly/%d/%d/1", pilotID, year)

	// Test case 1: Pilots cannot delete
	w := testutils.PerformRequest(testCtx.Router, http.MethodDelete, path, nil, testutils.AuthHeaders(testCtx.PilotJWT))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Test case 2: Successfully delete one month
	w = testutils.PerformRequest(testCtx.Router, http.MethodDelete, path, nil, testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusOK, w.Code)

	// Test case 3: Delete a missing month
	w = testutils.PerformRequest(testCtx.Router, http.MethodDelete, path, nil, testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Test case 4: Invalid month
	w = testutils.PerformRequest(testCtx.Router, http.MethodDelete, fmt.Sprintf("/paymentMonthly/%d/%d/13", pilotID, year), nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 5: Purge the remaining notices
	w = testutils.PerformRequest(testCtx.Router, http.MethodDelete, fmt.Sprintf("/paymentMonthly/%d?status=ToConfirm", pilotID), nil,
		testutils.AuthHeaders(testCtx.AdminJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var purged models.PurgeResponse
	testutils.DecodeJSON(t, w, &purged)
	assert.Equal(t, int64(2), purged.Deleted)
}

func TestPixQuoteAndQRCode(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	pilotID := testCtx.Pilot.PilotID
	year := time.Now().Year()

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet,
		fmt.Sprintf("/paymentMonthly/%d/pix?plan=semestral&year=%d", pilotID, year), nil, testutils.AuthHeaders(testCtx.PilotJWT))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var quote models.PixQuoteResponse
	testutils.DecodeJSON(t, w, &quote)
	assert.Equal(t, ledger.PlanSemester, quote.PlanType)
	assert.Len(t, quote.Months, 6)
	assert.Equal(t, ledger.Key{Year: year, Month: 1}, quote.Months[0])
	assert.Contains(t, quote.Payload, "br.gov.bcb.pix")
	assert.Contains(t, quote.Payload, testutils.TestPixKey)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		fmt.Sprintf("/paymentMonthly/%d/pix.png?plan=monthly", pilotID), nil, testutils.AuthHeaders(testCtx.PilotJWT))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet,
		fmt.Sprintf("/paymentMonthly/%d/pix?plan=weekly", pilotID), nil, testutils.AuthHeaders(testCtx.PilotJWT))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportAndReceipt(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	pilotID := testCtx.Pilot.PilotID
	year := time.Now().Year()
	createNotice(t, testCtx, testCtx.PilotJWT, pilotID, year, 1, ledger.PlanMonthly, time.Now().UTC())

	receipt := fmt.Sprintf("/paymentMonthly/%d/receipt/%d/1", pilotID, year)
	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, receipt, nil, testutils.AuthHeaders(testCtx.PilotJWT))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodPatch, "/paymentMonthly/confirmPayment",
		models.PaymentKeyRequest{PilotID: pilotID, ReferenceYear: ledger.Year(year), ReferenceMonth: 1},
		testutils.AuthHeaders(testCtx.AdminJWT))
	require.Equal(t, http.StatusOK, w.Code)

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, receipt, nil, testutils.AuthHeaders(testCtx.PilotJWT))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))

	w = testutils.PerformRequest(testCtx.Router, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d/export?year=%d", pilotID, year), nil,
		testutils.AuthHeaders(testCtx.PilotJWT))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "ledger-")
}

func TestConcurrentNotices(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	defer testutils.CleanupTestContext(testCtx)

	year := time.Now().Year()
	pilotID := testCtx.Pilot.PilotID
	noticeAt := time.Now().UTC()

	// several clients submitting the same months must converge on one row per month
	const submitters = 5
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := 1; m <= 12; m++ {
				w := testutils.PerformRequest(testCtx.Router, http.MethodPost, "/paymentMonthly", models.CreatePaymentRequest{
					PilotID:        pilotID,
					ReferenceYear:  ledger.Year(year),
					ReferenceMonth: m,
					PlanType:       ledger.PlanAnnual,
					CreatedAt:      &noticeAt,
				}, testutils.AuthHeaders(testCtx.PilotJWT))
				assert.Equal(t, http.StatusCreated, w.Code)
			}
		}()
	}
	wg.Wait()

	w := testutils.PerformRequest(testCtx.Router, http.MethodGet, fmt.Sprintf("/paymentMonthly/%d?year=%d", pilotID, year), nil,
		testutils.AuthHeaders(testCtx.PilotJWT))
	require.Equal(t, http.StatusOK, w.Code)

	var list entriesResponse
	testutils.DecodeJSON(t, w, &list)
	require.Len(t, list.Data, 12)

	ids := make(map[int64]bool)
	for _, e := range list.Data {
		require.NotNil(t, e.ID)
		ids[*e.ID] = true
	}
	assert.Len(t, ids, 12)
}
