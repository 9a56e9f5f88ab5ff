package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/money"
	"github.com/mmdatafocus/fees_backend/reports"
	"github.com/mmdatafocus/fees_backend/utils"
)

const idempotencyHeader = "Idempotency-Key"

// schoolOf is safe to call behind RequireSchool.
func schoolOf(c *gin.Context) string {
	schoolId, _ := utils.GetSchoolIdFromContext(c.Request.Context())
	return schoolId
}

func (s *server) createFeeAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewFeeAccount
		if err := c.ShouldBindJSON(&input); err != nil {
			bindFailed(c, err)
			return
		}
		input.SchoolId = schoolOf(c)
		if err := utils.ValidateStruct(input); err != nil {
			respondError(c, s.logger, "createFeeAccountHandler", err)
			return
		}
		acc, err := s.services().ledger.CreateFeeAccount(c.Request.Context(), input)
		if err != nil {
			respondError(c, s.logger, "createFeeAccountHandler", err)
			return
		}
		c.JSON(http.StatusCreated, acc)
	}
}

func (s *server) getFeeAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		acc, err := s.services().ledger.GetFeeAccount(c.Request.Context(), schoolOf(c), c.Param("id"))
		if err != nil {
			respondError(c, s.logger, "getFeeAccountHandler", err)
			return
		}
		c.JSON(http.StatusOK, acc)
	}
}

// findFeeAccountHandler looks an account up by student and academic year.
func (s *server) findFeeAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		studentId := strings.TrimSpace(c.Query("student_id"))
		academicYear := strings.TrimSpace(c.Query("academic_year"))
		if studentId == "" || academicYear == "" {
			badRequest(c, "student_id and academic_year are required")
			return
		}
		acc, err := s.services().ledger.FindFeeAccount(c.Request.Context(), schoolOf(c), studentId, academicYear)
		if err != nil {
			respondError(c, s.logger, "findFeeAccountHandler", err)
			return
		}
		c.JSON(http.StatusOK, acc)
	}
}

func (s *server) accountSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := s.services().ledger.AccountSummary(c.Request.Context(), schoolOf(c), c.Param("id"))
		if err != nil {
			respondError(c, s.logger, "accountSummaryHandler", err)
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

type scheduleSplitRequest struct {
	DueDate string      `json:"due_date" validate:"required"`
	Amount  money.Money `json:"amount"`
}

type scheduleRequest struct {
	Installments []scheduleSplitRequest `json:"installments" validate:"required,min=1,dive"`
}

func (s *server) generateScheduleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scheduleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindFailed(c, err)
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			respondError(c, s.logger, "generateScheduleHandler", err)
			return
		}
		splits := make([]models.ScheduleSplit, 0, len(req.Installments))
		for i, in := range req.Installments {
			dueDate, err := utils.ParseDate(strings.TrimSpace(in.DueDate))
			if err != nil {
				badRequest(c, fmt.Sprintf("installments[%d].due_date must be YYYY-MM-DD", i))
				return
			}
			splits = append(splits, models.ScheduleSplit{DueDate: dueDate, Amount: in.Amount})
		}
		items, err := s.services().ledger.GenerateSchedule(c.Request.Context(), schoolOf(c), c.Param("id"), splits)
		if err != nil {
			respondError(c, s.logger, "generateScheduleHandler", err)
			return
		}
		c.JSON(http.StatusCreated, items)
	}
}

func (s *server) listInstallmentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := s.services().ledger.ListInstallments(c.Request.Context(), schoolOf(c), c.Param("id"))
		if err != nil {
			respondError(c, s.logger, "listInstallmentsHandler", err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

type paymentRequest struct {
	InstallmentId  *string            `json:"installment_id"`
	Amount         money.Money        `json:"amount"`
	PaymentDate    string             `json:"payment_date"`
	PaymentMode    models.PaymentMode `json:"payment_mode"`
	TransactionRef string             `json:"transaction_ref"`
	Remarks        string             `json:"remarks"`
}

// recordPaymentHandler answers 201 for a new entry and 200 when the
// Idempotency-Key replays an earlier one.
func (s *server) recordPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req paymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindFailed(c, err)
			return
		}
		input := models.NewPayment{
			FeeAccountId:   c.Param("id"),
			InstallmentId:  req.InstallmentId,
			Amount:         req.Amount,
			PaymentMode:    models.PaymentMode(strings.ToLower(strings.TrimSpace(string(req.PaymentMode)))),
			TransactionRef: req.TransactionRef,
			Remarks:        req.Remarks,
			IdempotencyKey: strings.TrimSpace(c.GetHeader(idempotencyHeader)),
		}
		if len(input.IdempotencyKey) > 255 {
			badRequest(c, "Idempotency-Key is too long")
			return
		}
		if d := strings.TrimSpace(req.PaymentDate); d != "" {
			paymentDate, err := utils.ParseDate(d)
			if err != nil {
				badRequest(c, "payment_date must be YYYY-MM-DD")
				return
			}
			input.PaymentDate = paymentDate
		}
		if err := utils.ValidateStruct(input); err != nil {
			respondError(c, s.logger, "recordPaymentHandler", err)
			return
		}

		receipt, err := s.services().ledger.RecordPayment(c.Request.Context(), schoolOf(c), input)
		if err != nil {
			respondError(c, s.logger, "recordPaymentHandler", err)
			return
		}
		status := http.StatusCreated
		if receipt.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, receipt)
	}
}

func ledgerOrder(c *gin.Context) (models.LedgerOrder, bool) {
	switch order := models.LedgerOrder(c.DefaultQuery("order", string(models.LedgerOrderDisplay))); order {
	case models.LedgerOrderDisplay, models.LedgerOrderLedger:
		return order, true
	}
	badRequest(c, "order must be display or ledger")
	return "", false
}

func (s *server) listAccountPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := ledgerOrder(c)
		if !ok {
			return
		}
		entries, err := s.services().ledger.ListPaymentsForAccount(c.Request.Context(), schoolOf(c), c.Param("id"), order)
		if err != nil {
			respondError(c, s.logger, "listAccountPaymentsHandler", err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

func (s *server) listInstallmentPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := ledgerOrder(c)
		if !ok {
			return
		}
		entries, err := s.services().ledger.ListPaymentsForInstallment(c.Request.Context(), schoolOf(c), c.Param("id"), order)
		if err != nil {
			respondError(c, s.logger, "listInstallmentPaymentsHandler", err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

type discountRequest struct {
	models.NewDiscount
	// Approve files and approves the discount in one step.
	Approve bool `json:"approve"`
}

func (s *server) requestDiscountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req discountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindFailed(c, err)
			return
		}
		if err := utils.ValidateStruct(req.NewDiscount); err != nil {
			respondError(c, s.logger, "requestDiscountHandler", err)
			return
		}
		fees := s.services().ledger
		if req.Approve {
			decision, err := fees.ApplyDiscount(c.Request.Context(), schoolOf(c), c.Param("id"), req.NewDiscount)
			if err != nil {
				respondError(c, s.logger, "requestDiscountHandler", err)
				return
			}
			c.JSON(http.StatusCreated, decision)
			return
		}
		discount, err := fees.RequestDiscount(c.Request.Context(), schoolOf(c), c.Param("id"), req.NewDiscount)
		if err != nil {
			respondError(c, s.logger, "requestDiscountHandler", err)
			return
		}
		c.JSON(http.StatusCreated, discount)
	}
}

func (s *server) listDiscountsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := s.services().ledger.ListDiscounts(c.Request.Context(), schoolOf(c), c.Param("id"))
		if err != nil {
			respondError(c, s.logger, "listDiscountsHandler", err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

func (s *server) approveDiscountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := s.services().ledger.ApproveDiscount(c.Request.Context(), schoolOf(c), c.Param("id"))
		if err != nil {
			respondError(c, s.logger, "approveDiscountHandler", err)
			return
		}
		c.JSON(http.StatusOK, decision)
	}
}

func (s *server) rejectDiscountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		discount, err := s.services().ledger.RejectDiscount(c.Request.Context(), schoolOf(c), c.Param("id"))
		if err != nil {
			respondError(c, s.logger, "rejectDiscountHandler", err)
			return
		}
		c.JSON(http.StatusOK, discount)
	}
}

// statementHandler streams the xlsx statement, or with ?upload=true stores it
// in GCS and returns the object name.
func (s *server) statementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		schoolId := schoolOf(c)
		fees := s.services().ledger

		summary, err := fees.AccountSummary(ctx, schoolId, c.Param("id"))
		if err != nil {
			respondError(c, s.logger, "statementHandler", err)
			return
		}
		payments, err := fees.ListPaymentsForAccount(ctx, schoolId, summary.Account.ID, models.LedgerOrderDisplay)
		if err != nil {
			respondError(c, s.logger, "statementHandler", err)
			return
		}
		discounts, err := fees.ListDiscounts(ctx, schoolId, summary.Account.ID)
		if err != nil {
			respondError(c, s.logger, "statementHandler", err)
			return
		}

		st := reports.Statement{
			Account:      *summary.Account,
			Installments: summary.Installments,
			Payments:     payments,
			Discounts:    discounts,
			GeneratedAt:  time.Now(),
		}
		buf, err := reports.BuildFeeStatement(st)
		if err != nil {
			respondError(c, s.logger, "statementHandler", err)
			return
		}

		if c.Query("upload") == "true" {
			objectName := fmt.Sprintf("statements/%s/%s", schoolId, st.FileName())
			if err := s.upload(ctx, objectName, buf.Bytes(), utils.XlsxContentType); err != nil {
				respondError(c, s.logger, "statementHandler", err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"object_name": objectName})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", st.FileName()))
		c.Data(http.StatusOK, utils.XlsxContentType, buf.Bytes())
	}
}
