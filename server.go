package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/coverwell/crm_backend/config"
	"github.com/coverwell/crm_backend/middlewares"
	"github.com/coverwell/crm_backend/models"
	"github.com/coverwell/crm_backend/utils"
	"github.com/coverwell/crm_backend/workflow"
)

const defaultPort = "8080"

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func callerFromContext(ctx context.Context) (workflow.CallerIdentity, bool) {
	claim := middlewares.CtxValue(ctx)
	if claim == nil {
		return workflow.CallerIdentity{}, false
	}
	return workflow.CallerIdentity{
		UserID:         claim.ID,
		UserName:       claim.Name,
		OrganizationId: claim.OrganizationId,
		Role:           models.ProfileRole(claim.Role),
	}, true
}

func loginHandler() gin.HandlerFunc {
	type loginInput struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var input loginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		token, err := models.Login(c.Request.Context(), input.Email, input.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

func createImportHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if !caller.Role.CanManageImports() {
			c.JSON(http.StatusForbidden, gin.H{"error": "only admins can run imports"})
			return
		}

		entityType := models.ImportEntityType(c.Query("entity_type"))
		fileName := c.Query("file_name")
		if fileName == "" {
			fileName = "import.csv"
		}

		content, err := io.ReadAll(c.Request.Body)
		if err != nil || len(content) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file content is required"})
			return
		}

		ctx := c.Request.Context()
		job, err := models.CreateImportJob(ctx, entityType, fileName)
		if err != nil {
			config.LogError(logger, "server.go", "createImportHandler", "CreateImportJob", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create import job"})
			return
		}

		summary, err := workflow.RunImport(ctx, logger, job.ID, content)
		if err != nil {
			config.LogError(logger, "server.go", "createImportHandler", "RunImport", gin.H{"import_job_id": job.ID}, err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "import_job_id": job.ID})
			return
		}
		c.JSON(http.StatusOK, gin.H{"import_job_id": job.ID, "summary": summary})
	}
}

func listImportsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := callerFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		jobs, err := models.ListImportJobs(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list import jobs"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"import_jobs": jobs})
	}
}

func getImportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := callerFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid import job id"})
			return
		}
		job, err := models.GetImportJob(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "import job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load import job"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"import_job": job})
	}
}

func rollbackImportHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		caller, _ := callerFromContext(ctx)

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid import job id"})
			return
		}

		// Redis lock is a best-effort optimization. Correctness must not
		// depend on Redis: the conditional rollback_status update plus the
		// MySQL advisory lock serialize concurrent attempts.
		if rlock := config.GetRedisLock(); rlock != nil {
			lock, lerr := rlock.Obtain(ctx, "import_rollback:"+c.Param("id"), 5*time.Minute, nil)
			if lerr == nil {
				defer lock.Release(context.Background())
			} else if lerr != redislock.ErrNotObtained {
				logger.WithFields(logrus.Fields{
					"field":         "ImportRollback",
					"import_job_id": id,
				}).Warn("redis lock unavailable, continuing: " + lerr.Error())
			}
		}

		// Everything inside runs with the per-job advisory lock held on a
		// single pinned session.
		var result *workflow.RollbackResult
		err = workflow.WithImportRollbackLock(ctx, config.GetDB(), id, func() error {
			var werr error
			result, werr = workflow.RollbackImport(ctx, workflow.NewRollbackStore(), logger, caller, id)
			return werr
		})
		if err != nil {
			switch {
			case errors.Is(err, workflow.ErrRollbackLockBusy):
				c.JSON(http.StatusConflict, gin.H{"error": "rollback already running"})
			case errors.Is(err, workflow.ErrUnauthenticated), errors.Is(err, workflow.ErrProfileNotFound):
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			case errors.Is(err, workflow.ErrRollbackForbidden), errors.Is(err, workflow.ErrCrossTenant):
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			case errors.Is(err, workflow.ErrJobNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			case errors.Is(err, workflow.ErrCannotRollback):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			case errors.Is(err, workflow.ErrRollbackConflict):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				config.LogError(logger, "server.go", "rollbackImportHandler", "RollbackImport", gin.H{"import_job_id": id}, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "rollback failed unexpectedly"})
			}
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/auth/login", loginHandler())
	r.POST("/imports", createImportHandler(logger))
	r.GET("/imports", listImportsHandler())
	r.GET("/imports/:id", getImportHandler())
	r.POST("/imports/:id/rollback", rollbackImportHandler(logger))
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on port ", port)

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}
