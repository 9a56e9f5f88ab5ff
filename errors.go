package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fees_backend/config"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/money"
	"github.com/mmdatafocus/fees_backend/utils"
	"github.com/sirupsen/logrus"
)

// statusFor maps ledger errors onto HTTP status codes. Anything unknown is a
// 500.
func statusFor(err error) int {
	switch {
	case utils.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrOverpaymentRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrScheduleExists),
		errors.Is(err, models.ErrDuplicateAccount),
		errors.Is(err, models.ErrConcurrencyConflict),
		errors.Is(err, models.ErrIdempotencyKeyReused):
		return http.StatusConflict
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrDiscountExceedsTotal),
		errors.Is(err, models.ErrScheduleAmountMismatch),
		errors.Is(err, models.ErrInstallmentMismatch),
		errors.Is(err, models.ErrInvalidPaymentMode),
		errors.Is(err, models.ErrMissingField):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes err as JSON. Validation failures carry a per-field map;
// unexpected errors are logged and hidden from the caller.
func respondError(c *gin.Context, logger *logrus.Logger, funcName string, err error) {
	if utils.IsValidationError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		config.LogError(logger, "server.go", funcName, c.Request.Method+" "+c.FullPath(), c.Params, err)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindFailed reports a request body that could not be decoded. Bad money
// values and payment modes are named; anything else is a generic 400.
func bindFailed(c *gin.Context, err error) {
	if errors.Is(err, models.ErrInvalidPaymentMode) || errors.Is(err, money.ErrInvalid) {
		badRequest(c, err.Error())
		return
	}
	badRequest(c, "invalid request")
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
