package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fees_backend/ledger"
	"github.com/mmdatafocus/fees_backend/lock"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/reconcile"
	"github.com/mmdatafocus/fees_backend/store/memstore"
	"github.com/mmdatafocus/fees_backend/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchool = "school-1"

type testApp struct {
	srv      *server
	router   *gin.Engine
	store    *memstore.Store
	uploaded map[string][]byte
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("API_SECRET", "test-secret")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var mu sync.Mutex
	tick := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Millisecond)
		return tick
	}
	st := memstore.New()
	locker := lock.NewLocalLocker(2 * time.Second)

	app := &testApp{store: st, uploaded: map[string][]byte{}}
	app.srv = newServer(logger)
	app.srv.session = func(ctx context.Context, key string) (string, bool, error) { return "", false, nil }
	app.srv.upload = func(ctx context.Context, objectName string, data []byte, contentType string) error {
		app.uploaded[objectName] = data
		return nil
	}
	app.srv.deps.Store(&services{
		ledger:  ledger.New(st, locker, logger, ledger.Options{Location: time.UTC, Now: now}),
		sweeper: reconcile.NewSweeper(st, locker, logger, reconcile.SweeperOptions{Location: time.UTC, Now: now}),
	})
	app.router = app.srv.routes()
	return app
}

func token(t *testing.T, schoolId, role string) string {
	t.Helper()
	tok, err := utils.JwtGenerate(7, "frontdesk", schoolId, role)
	require.NoError(t, err)
	return tok
}

func (a *testApp) do(t *testing.T, method, path, tok string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// createAccount opens an account with a two-installment schedule and returns
// the account id and installment ids in due-date order.
func (a *testApp) createAccount(t *testing.T, tok, studentId string) (string, []string) {
	t.Helper()
	w := a.do(t, http.MethodPost, "/fee-accounts", tok, gin.H{
		"student_id":    studentId,
		"academic_year": "2025-26",
		"total_fee":     "50000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var acc models.FeeAccount
	decode(t, w, &acc)

	w = a.do(t, http.MethodPost, "/fee-accounts/"+acc.ID+"/schedule", tok, gin.H{
		"installments": []gin.H{
			{"due_date": "2025-10-01", "amount": "30000"},
			{"due_date": "2025-04-01", "amount": "20000"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var items []models.Installment
	decode(t, w, &items)
	require.Len(t, items, 2)
	return acc.ID, []string{items[0].ID, items[1].ID}
}

func TestHealthzAnswersBeforeReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := newServer(logger).routes()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fee-accounts/abc", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRoutesRequireSchool(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/fee-accounts/abc", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodGet, "/fee-accounts/abc", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodGet, "/nope", token(t, testSchool, "accountant"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFeeAccountPaymentFlow(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, testSchool, "accountant")
	accountId, installments := app.createAccount(t, tok, "stu-1")

	w := app.do(t, http.MethodPost, "/fee-accounts/"+accountId+"/payments", tok, gin.H{
		"installment_id": installments[0],
		"amount":         "20000",
		"payment_date":   "2025-04-02",
		"payment_mode":   "UPI",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var receipt ledger.PaymentReceipt
	decode(t, w, &receipt)
	assert.Equal(t, "20000.00", receipt.Account.PaidAmount.String())
	assert.Equal(t, "30000.00", receipt.Account.PendingAmount.String())
	assert.Equal(t, models.FeeAccountStatusPartial, receipt.Account.Status)
	assert.Equal(t, models.PaymentModeUpi, receipt.Entry.PaymentMode)
	require.NotNil(t, receipt.Installment)
	assert.Equal(t, models.InstallmentStatusPaid, receipt.Installment.Status)

	// 30000 pending, so 30000.01 is an overpayment.
	w = app.do(t, http.MethodPost, "/fee-accounts/"+accountId+"/payments", tok, gin.H{
		"amount":       "30000.01",
		"payment_mode": "cash",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

	w = app.do(t, http.MethodGet, "/fee-accounts/"+accountId+"/summary", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary ledger.AccountSummary
	decode(t, w, &summary)
	assert.Equal(t, "20000.00", summary.Account.PaidAmount.String())
	assert.False(t, summary.ScheduleMismatch)

	w = app.do(t, http.MethodGet, "/installments/"+installments[0]+"/payments", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.PaymentEntry
	decode(t, w, &entries)
	assert.Len(t, entries, 1)

	w = app.do(t, http.MethodGet, "/fee-accounts?student_id=stu-1&academic_year=2025-26", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found models.FeeAccount
	decode(t, w, &found)
	assert.Equal(t, accountId, found.ID)
}

func TestCreateFeeAccount_Errors(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, testSchool, "accountant")

	w := app.do(t, http.MethodPost, "/fee-accounts", tok, gin.H{"academic_year": "2025-26", "total_fee": "100"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &body)
	assert.Equal(t, "required", body.Fields["student_id"])

	w = app.do(t, http.MethodPost, "/fee-accounts", tok, gin.H{"student_id": "s", "academic_year": "2025-26", "total_fee": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	app.createAccount(t, tok, "stu-dup")
	w = app.do(t, http.MethodPost, "/fee-accounts", tok, gin.H{"student_id": "stu-dup", "academic_year": "2025-26", "total_fee": "100"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGenerateSchedule_Errors(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, testSchool, "accountant")
	accountId, _ := app.createAccount(t, tok, "stu-1")

	w := app.do(t, http.MethodPost, "/fee-accounts/"+accountId+"/schedule", tok, gin.H{
		"installments": []gin.H{{"due_date": "2026-01-01", "amount": "50000"}},
	})
	assert.Equal(t, http.StatusConflict, w.Code, "schedule already exists")

	w = app.do(t, http.MethodPost, "/fee-accounts/"+accountId+"/schedule", tok, gin.H{
		"installments": []gin.H{{"due_date": "01/01/2026", "amount": "50000"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, "/fee-accounts/"+accountId+"/schedule", tok, gin.H{"installments": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecordPayment_IdempotencyKeyReplays(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, testSchool, "accountant")
	accountId, _ := app.createAccount(t, tok, "stu-1")
	body := gin.H{"amount": "1000", "payment_mode": "cash"}

	first := app.do(t, http.MethodPost, "/fee-accounts/"+accountId+"/payments", tok, body, idempotencyHeader, "req-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := app.do(t, http.MethodPost, "/fee-accounts/"+accountId+"/payments", tok, body, idempotencyHeader, "req-1")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())

	var a, b ledger.PaymentReceipt
	decode(t, first, &a)
	decode(t, second, &b)
	assert.Equal(t, a.Entry.ID, b.Entry.ID)
	assert.True(t, b.Replayed)
	assert.Equal(t, "1000.00", b.Account.PaidAmount.String())

	otherId, _ := app.createAccount(t, tok, "stu-2")
	reused := app.do(t, http.MethodPost, "/fee-accounts/"+otherId+"/payments", tok, body, idempotencyHeader, "req-1")
	assert.Equal(t, http.StatusConflict, reused.Code, reused.Body.String())
}

func TestRecordPayment_BadInput(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, testSchool, "accountant")
	accountId, _ := app.createAccount(t, tok, "stu-1")
	path := "/fee-accounts/" + accountId + "/payments"

	cases := []struct {
		name string
		body gin.H
	}{
		{"zero amount", gin.H{"amount": "0", "payment_mode": "cash"}},
		{"negative amount", gin.H{"amount": "-5", "payment_mode": "cash"}},
		{"unknown mode", gin.H{"amount": "10", "payment_mode": "barter"}},
		{"missing mode", gin.H{"amount": "10"}},
		{"bad date", gin.H{"amount": "10", "payment_mode": "cash", "payment_date": "yesterday"}},
		{"other account's installment", gin.H{"amount": "10", "payment_mode": "cash", "installment_id": "missing"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := app.do(t, http.MethodPost, path, tok, tc.body)
			assert.Contains(t, []int{http.StatusBadRequest, http.StatusNotFound}, w.Code, w.Body.String())
		})
	}

	w := app.do(t, http.MethodGet, path, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.PaymentEntry
	decode(t, w, &entries)
	assert.Empty(t, entries)
}

func TestListPayments_OrderParam(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, testSchool, "accountant")
	accountId, _ := app.createAccount(t, tok, "stu-1")
	path := "/fee-accounts/" + accountId + "/payments"

	for _, date := range []string{"2025-05-01", "2025-03-01"} {
		w := app.do(t, http.MethodPost, path, tok, gin.H{"amount": "100", "payment_mode": "cash", "payment_date": date})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	var display, ledgerOrder []models.PaymentEntry
	w := app.do(t, http.MethodGet, path, tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &display)
	w = app.do(t, http.MethodGet, path+"?order=ledger", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &ledgerOrder)

	require.Len(t, display, 2)
	require.Len(t, ledgerOrder, 2)
	// Display is newest payment date first; ledger order is insertion order.
	assert.Equal(t, "2025-05-01", display[0].PaymentDate.Format("2006-01-02"))
	assert.Equal(t, "2025-05-01", ledgerOrder[0].PaymentDate.Format("2006-01-02"))
	assert.Equal(t, "2025-03-01", ledgerOrder[1].PaymentDate.Format("2006-01-02"))

	w = app.do(t, http.MethodGet, path+"?order=random", tok, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiscountLifecycle(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, testSchool, "accountant")
	accountId, _ := app.createAccount(t, tok, "stu-1")

	w := app.do(t, http.MethodPost, "/fee-accounts/"+accountId+"/discounts", tok, gin.H{"amount": "5000", "reason": "sibling"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var discount models.DiscountRecord
	decode(t, w, &discount)
	assert.Equal(t, models.DiscountStatusPending, discount.Status)

	w = app.do(t, http.MethodPost, "/discounts/"+discount.ID+"/approve", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var decision ledger.DiscountDecision
	decode(t, w, &decision)
	assert.Equal(t, "45000.00", decision.Account.NetFee.String())

	w = app.do(t, http.MethodPost, "/discounts/"+discount.ID+"/reject", tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// The schedule still adds up to 50000.
	w = app.do(t, http.MethodGet, "/fee-accounts/"+accountId+"/summary", tok, nil)
	var summary ledger.AccountSummary
	decode(t, w, &summary)
	assert.True(t, summary.ScheduleMismatch)

	w = app.do(t, http.MethodPost, "/fee-accounts/"+accountId+"/discounts", tok, gin.H{"amount": "50000", "approve": true})
	assert.Equal(t, http.StatusBadRequest, w.Code, "discount must stay below the total fee")

	w = app.do(t, http.MethodGet, "/fee-accounts/"+accountId+"/discounts", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []models.DiscountRecord
	decode(t, w, &items)
	assert.Len(t, items, 1)

	w = app.do(t, http.MethodPost, "/discounts/missing/approve", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOtherSchoolCannotSeeAccount(t *testing.T) {
	app := newTestApp(t)
	accountId, _ := app.createAccount(t, token(t, testSchool, "accountant"), "stu-1")

	w := app.do(t, http.MethodGet, "/fee-accounts/"+accountId, token(t, "school-2", "accountant"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatementDownloadAndUpload(t *testing.T) {
	app := newTestApp(t)
	tok := token(t, testSchool, "accountant")
	accountId, _ := app.createAccount(t, tok, "stu-1")

	w := app.do(t, http.MethodGet, "/fee-accounts/"+accountId+"/statement.xlsx", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, utils.XlsxContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "fee-statement-stu-1-2025-26.xlsx")
	assert.NotZero(t, w.Body.Len())

	w = app.do(t, http.MethodGet, "/fee-accounts/"+accountId+"/statement.xlsx?upload=true", tok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		ObjectName string `json:"object_name"`
	}
	decode(t, w, &body)
	assert.Equal(t, "statements/school-1/fee-statement-stu-1-2025-26.xlsx", body.ObjectName)
	assert.NotEmpty(t, app.uploaded[body.ObjectName])
}

func TestReconcileEndpoint(t *testing.T) {
	app := newTestApp(t)
	accountId, _ := app.createAccount(t, token(t, testSchool, "accountant"), "stu-1")

	w := app.do(t, http.MethodPost, "/internal/ops/reconcile", token(t, testSchool, "accountant"), gin.H{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := token(t, testSchool, roleAdmin)
	w = app.do(t, http.MethodPost, "/internal/ops/reconcile", admin, gin.H{"fee_account_id": accountId, "dry_run": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result reconcile.AccountResult
	decode(t, w, &result)
	assert.Equal(t, accountId, result.FeeAccountId)
	assert.True(t, result.DryRun)
	assert.False(t, result.Changed())

	w = app.do(t, http.MethodPost, "/internal/ops/reconcile", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report reconcile.SweepReport
	decode(t, w, &report)
	assert.Equal(t, 1, report.Accounts)
	assert.Empty(t, report.Failures)

	w = app.do(t, http.MethodPost, "/internal/ops/reconcile", admin, gin.H{"fee_account_id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOutboxReplayNeedsDatabase(t *testing.T) {
	app := newTestApp(t)
	admin := token(t, testSchool, roleAdmin)

	w := app.do(t, http.MethodPost, "/internal/ops/outbox/replay", admin, gin.H{"record_id": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = app.do(t, http.MethodPost, "/internal/ops/outbox/replay", admin, gin.H{"record_id": 4})
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	w = app.do(t, http.MethodGet, "/internal/ops/outbox/acc-1", admin, nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidAmount, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", models.ErrDiscountExceedsTotal), http.StatusBadRequest},
		{models.ErrScheduleAmountMismatch, http.StatusBadRequest},
		{models.ErrInstallmentMismatch, http.StatusBadRequest},
		{models.ErrInvalidPaymentMode, http.StatusBadRequest},
		{models.ErrMissingField, http.StatusBadRequest},
		{models.ErrOverpaymentRejected, http.StatusUnprocessableEntity},
		{models.ErrInvalidTransition, http.StatusConflict},
		{models.ErrScheduleExists, http.StatusConflict},
		{models.ErrDuplicateAccount, http.StatusConflict},
		{models.ErrConcurrencyConflict, http.StatusConflict},
		{models.ErrIdempotencyKeyReused, http.StatusConflict},
		{models.ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim("  "))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, splitAndTrim(" https://a.example, ,https://b.example "))
}
