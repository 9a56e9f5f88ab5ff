package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/reconcile"
)

type reconcileRequest struct {
	// FeeAccountId limits the run to one account; empty sweeps the school.
	FeeAccountId     string `json:"fee_account_id"`
	DryRun           bool   `json:"dry_run"`
	SynthesizeLegacy bool   `json:"synthesize_legacy"`
}

func (s *server) reconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reconcileRequest
		// An empty body sweeps the whole school for real.
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				bindFailed(c, err)
				return
			}
		}
		opts := reconcile.Options{DryRun: req.DryRun, SynthesizeLegacy: req.SynthesizeLegacy}
		sweeper := s.services().sweeper
		schoolId := schoolOf(c)

		if id := strings.TrimSpace(req.FeeAccountId); id != "" {
			result, err := sweeper.ReconcileAccount(c.Request.Context(), schoolId, id, opts)
			if err != nil {
				respondError(c, s.logger, "reconcileHandler", err)
				return
			}
			c.JSON(http.StatusOK, result)
			return
		}
		report, err := sweeper.SweepSchool(c.Request.Context(), schoolId, opts)
		if err != nil {
			respondError(c, s.logger, "reconcileHandler", err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id"`
}

// outboxReplayHandler puts an outbox row back in the dispatcher's queue.
func (s *server) outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			bindFailed(c, err)
			return
		}
		if req.RecordId <= 0 {
			badRequest(c, "record_id is required")
			return
		}
		db := s.services().db
		if db == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "the outbox is only kept by the mysql store"})
			return
		}

		status, err := models.ReplayFeeEvent(c.Request.Context(), db, schoolOf(c), req.RecordId)
		if err != nil {
			respondError(c, s.logger, "outboxReplayHandler", err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// outboxStatusHandler lists the events written for one aggregate and where
// each one is in the publish pipeline.
func (s *server) outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := s.services().db
		if db == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "the outbox is only kept by the mysql store"})
			return
		}
		items, err := models.ListOutboxStatus(c.Request.Context(), db, schoolOf(c), c.Param("aggregate_id"))
		if err != nil {
			respondError(c, s.logger, "outboxStatusHandler", err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}
