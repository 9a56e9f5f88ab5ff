package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/fees_backend/config"
	"github.com/mmdatafocus/fees_backend/events"
	"github.com/mmdatafocus/fees_backend/ledger"
	"github.com/mmdatafocus/fees_backend/lock"
	"github.com/mmdatafocus/fees_backend/middlewares"
	"github.com/mmdatafocus/fees_backend/models"
	"github.com/mmdatafocus/fees_backend/reconcile"
	"github.com/mmdatafocus/fees_backend/store/gormstore"
	"github.com/mmdatafocus/fees_backend/store/memstore"
	"github.com/mmdatafocus/fees_backend/utils"
	"github.com/mmdatafocus/fees_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultPort = "8080"

const roleAdmin = "admin"

// services is everything a handler needs once the store is reachable.
type services struct {
	ledger  *ledger.FeeLedger
	sweeper *reconcile.Sweeper
	// db is nil when running on the in-memory store.
	db *gorm.DB
}

type server struct {
	logger  *logrus.Logger
	session middlewares.SessionLookup
	upload  func(ctx context.Context, objectName string, data []byte, contentType string) error
	limiter *RateLimiter
	deps    atomic.Pointer[services]
}

func newServer(logger *logrus.Logger) *server {
	return &server{
		logger:  logger,
		session: config.GetRedisValue,
		upload:  utils.UploadBytesToGCS,
	}
}

func (s *server) services() *services {
	return s.deps.Load()
}

// readinessGate answers 503 until the store is wired. /healthz always
// answers so the platform probe passes while the database is still coming up.
func (s *server) readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if s.services() == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service is starting"})
			return
		}
		c.Next()
	}
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production only CORS_ALLOWED_ORIGINS may call us; elsewhere anyone can.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			// Deny every origin when production has no allowlist.
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "Idempotency-Key", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = true
	return corsConfig
}

func (s *server) routes() *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(s.readinessGate())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(cors.New(corsConfig()))
	if s.limiter != nil {
		r.Use(s.limiter.RateLimitMiddleware)
	}
	r.Use(middlewares.SessionMiddleware(s.session))
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(s.logger))
	r.Use(gin.Recovery())

	api := r.Group("", middlewares.RequireSchool())
	api.POST("/fee-accounts", s.createFeeAccountHandler())
	api.GET("/fee-accounts", s.findFeeAccountHandler())
	api.GET("/fee-accounts/:id", s.getFeeAccountHandler())
	api.GET("/fee-accounts/:id/summary", s.accountSummaryHandler())
	api.POST("/fee-accounts/:id/schedule", s.generateScheduleHandler())
	api.GET("/fee-accounts/:id/installments", s.listInstallmentsHandler())
	api.POST("/fee-accounts/:id/payments", s.recordPaymentHandler())
	api.GET("/fee-accounts/:id/payments", s.listAccountPaymentsHandler())
	api.GET("/installments/:id/payments", s.listInstallmentPaymentsHandler())
	api.POST("/fee-accounts/:id/discounts", s.requestDiscountHandler())
	api.GET("/fee-accounts/:id/discounts", s.listDiscountsHandler())
	api.POST("/discounts/:id/approve", s.approveDiscountHandler())
	api.POST("/discounts/:id/reject", s.rejectDiscountHandler())
	api.GET("/fee-accounts/:id/statement.xlsx", s.statementHandler())

	ops := r.Group("/internal/ops", middlewares.RequireSchool(), middlewares.RequireRole(roleAdmin))
	ops.POST("/reconcile", s.reconcileHandler())
	// Replays an outbox row that was marked DEAD or FAILED.
	ops.POST("/outbox/replay", s.outboxReplayHandler())
	ops.GET("/outbox/:aggregate_id", s.outboxStatusHandler())

	r.NoRoute(customNotFoundHandler)
	return r
}

// wireMemory runs the ledger on the in-memory store. Used for local
// development and demos; nothing survives a restart.
func wireMemory(settings *config.LedgerSettings, logger *logrus.Logger) (*services, error) {
	loc, err := settings.Location()
	if err != nil {
		return nil, err
	}
	s := memstore.New()
	locker := lock.NewLocalLocker(settings.LockWait())
	return &services{
		ledger: ledger.New(s, locker, logger, ledger.Options{MaxRetries: settings.MaxRetries, Location: loc}),
		sweeper: reconcile.NewSweeper(s, locker, logger, reconcile.SweeperOptions{
			Concurrency: settings.SweepConcurrency,
			MaxRetries:  settings.MaxRetries,
			Location:    loc,
		}),
	}, nil
}

func wireMySQL(db *gorm.DB, settings *config.LedgerSettings, logger *logrus.Logger) (*services, error) {
	loc, err := settings.Location()
	if err != nil {
		return nil, err
	}
	redisLock := config.GetRedisLock()
	if redisLock == nil {
		return nil, errors.New("redis lock client is not connected")
	}
	s := gormstore.New(db)
	locker := lock.NewRedisLocker(redisLock, settings.LockTTL(), settings.LockWait(), logger)
	return &services{
		ledger: ledger.New(s, locker, logger, ledger.Options{MaxRetries: settings.MaxRetries, Location: loc}),
		sweeper: reconcile.NewSweeper(s, locker, logger, reconcile.SweeperOptions{
			Concurrency: settings.SweepConcurrency,
			MaxRetries:  settings.MaxRetries,
			Location:    loc,
		}),
		db: db,
	}, nil
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	settings, err := config.LoadLedgerSettings()
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "settings"}).Fatal(err.Error())
	}
	loc, _ := settings.Location()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	srv := newServer(logger)
	if rateLimitEnabled() {
		srv.limiter = rateLimiterFromEnv()
	}

	// Listen before the database is up; the readiness gate answers 503 meanwhile.
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: srv.routes(),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- httpServer.ListenAndServe()
	}()

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var deps *services
	var publisher events.Publisher
	switch strings.ToLower(settings.Store) {
	case "memory":
		deps, err = wireMemory(settings, logger)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "store"}).Fatal(err.Error())
		}
		logger.WithFields(logrus.Fields{"field": "store"}).Warn("STORE=memory; fee data is not persisted")
	default:
		config.ConnectDatabaseWithRetry()
		config.ConnectRedisWithRetry(sigCtx)

		db := config.GetDB()
		sqlDB, _ := db.DB()
		defer func() {
			if sqlDB != nil {
				_ = sqlDB.Close()
			}
		}()
		// AutoMigrate takes table locks; large deployments run it as a job instead.
		if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
			if err := models.MigrateTable(db); err != nil {
				logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal(err.Error())
			}
		} else {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
		}

		deps, err = wireMySQL(db, settings, logger)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "store"}).Fatal(err.Error())
		}

		publisher, err = events.NewPublisher(workerCtx, settings.EventBus, logger)
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "events"}).Fatal(err.Error())
		}
		dispatcher := workflow.NewOutboxDispatcher(db, publisher, logger)
		dispatcher.PollInterval = settings.OutboxPollInterval()
		go dispatcher.Run(workerCtx)
	}
	srv.deps.Store(deps)

	sweepOpts := reconcile.Options{SynthesizeLegacy: config.SynthesizeLegacyEntries()}
	scheduler := workflow.NewSweepScheduler(deps.sweeper, logger, settings.SweepSchedule, loc, config.SweepSchools(), sweepOpts)
	if err := scheduler.Start(); err != nil {
		logger.WithFields(logrus.Fields{"field": "sweep"}).Fatal(err.Error())
	}
	if config.SweepOnStartup() {
		go func() {
			if _, err := scheduler.RunNow(workerCtx); err != nil {
				config.LogError(logger, "server.go", "main", "startup sweep", nil, err)
			}
		}()
	}

	logger.WithFields(logrus.Fields{
		"info":  "Connection Established",
		"store": settings.Store,
		"bus":   settings.EventBus,
	}).Info("fee ledger listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background work before draining requests.
	<-scheduler.Stop().Done()
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.WithFields(logrus.Fields{"field": "events"}).Warn("closing publisher: " + err.Error())
		}
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intFromEnv(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return def
}
