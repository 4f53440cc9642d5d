package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatecheck/internal/attendance"
	"gatecheck/internal/auditlog"
	"gatecheck/internal/auth"
	"gatecheck/internal/config"
	"gatecheck/internal/gateway"
	"gatecheck/internal/httpmiddleware"
	"gatecheck/internal/model"
	"gatecheck/internal/notify"
	"gatecheck/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	var (
		db       *store.DB
		attStore attendance.Store
		scanLog  auditlog.Log
	)
	if cfg.StoreBackend == "memory" {
		attStore = attendance.NewMemoryStore()
		scanLog = auditlog.NewMemoryLog()
		log.Println("using in-memory store (single node, non-durable)")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		attStore = attendance.NewRepository(db.Client)
		scanLog = auditlog.NewRepository(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var notifier notify.Notifier
	if cfg.NotifyBackend == "memory" {
		notifier = notify.NewMemoryBroker()
	} else {
		notifier = notify.NewRedisNotifier(redisClient.Client, "gatecheck")
	}

	gw := gateway.New(attStore, scanLog, notifier)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		dbHealthy := db == nil || db.Client.PingContext(c.Request.Context()) == nil
		redisHealthy := cfg.NotifyBackend == "memory" || redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !dbHealthy || !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "db": dbHealthy, "redis": redisHealthy})
	})

	// Actor identity is supplied by the surrounding auth system; this
	// service signs it into a token and trusts it from then on.
	r.POST("/v1/stations/register", func(c *gin.Context) {
		var req struct {
			ActorID  string `json:"actor_id" binding:"required"`
			TenantID string `json:"tenant_id" binding:"required"`
			Role     string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role := req.Role
		if role == "" {
			role = auth.RoleStation
		}
		if role != auth.RoleStation && role != auth.RoleAdmin {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be station or admin"})
			return
		}

		tokens, err := auth.Issue(req.ActorID, req.TenantID, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.StationAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/scans", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			Code       string `json:"code" binding:"required"`
			Kind       string `json:"kind" binding:"required"`
			SubEventID string `json:"sub_event_id"`
			Set        string `json:"set"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		kind := model.ScanKind(req.Kind)
		if kind == model.ScanAdminOverride && claims.Role != auth.RoleAdmin {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}

		result, err := gw.SubmitScan(c.Request.Context(), gateway.ScanRequest{
			TenantID:   claims.TenantID,
			RawCode:    req.Code,
			Kind:       kind,
			SubEventID: req.SubEventID,
			ActorID:    claims.Subject,
			Set:        req.Set,
		})
		if errors.Is(err, gateway.ErrStoreUnavailable) {
			// Unknown outcome: the caller must re-scan, never retry a write.
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "try again"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	authGroup.GET("/scans/log", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		f := auditlog.Filter{
			TenantID:      claims.TenantID,
			ParticipantID: c.Query("participant_id"),
			SubEventID:    c.Query("sub_event_id"),
		}
		if v := c.Query("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
				return
			}
			f.From = t
		}
		if v := c.Query("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
				return
			}
			f.To = t
		}
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				f.Limit = parsed
			}
		}
		entries, err := scanLog.Query(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	authGroup.GET("/roster", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		participants, err := attStore.ListParticipants(c.Request.Context(), claims.TenantID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"participants": participants})
	})

	authGroup.GET("/roster/subevents/:id", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		rows, err := attStore.ListAttendance(c.Request.Context(), claims.TenantID, c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"attendance": rows})
	})

	// Turnout reads the store, never the scan log: the log is for audit,
	// the store for state.
	authGroup.GET("/reports/turnout", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		subEventID := c.Query("sub_event_id")
		if subEventID == "" {
			participants, err := attStore.ListParticipants(c.Request.Context(), claims.TenantID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			entered := 0
			for _, p := range participants {
				if p.Reception == model.Entered {
					entered++
				}
			}
			c.JSON(http.StatusOK, gin.H{"entered": entered, "registered": len(participants)})
			return
		}
		rows, err := attStore.ListAttendance(c.Request.Context(), claims.TenantID, subEventID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		present := 0
		for _, a := range rows {
			if a.Status == model.Present {
				present++
			}
		}
		c.JSON(http.StatusOK, gin.H{"sub_event_id": subEventID, "present": present, "registered": len(rows)})
	})

	authGroup.GET("/subscribe", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		topic := notify.TopicReception
		if se := c.Query("sub_event_id"); se != "" {
			topic = notify.SubEventTopic(se)
		}
		stream, err := notifier.Subscribe(c.Request.Context(), claims.TenantID, topic)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Stream(func(w io.Writer) bool {
			select {
			case n, ok := <-stream:
				if !ok {
					return false
				}
				c.SSEvent("change", n)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		})
	})

	// Registration ingest, called by the external registration workflow.
	adminGroup := authGroup.Group("", auth.RequireAdmin())

	adminGroup.POST("/participants", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			DisplayCode string `json:"display_code" binding:"required"`
			Name        string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := attStore.CreateParticipant(c.Request.Context(), model.Participant{
			TenantID:    claims.TenantID,
			DisplayCode: req.DisplayCode,
			Name:        req.Name,
		})
		if errors.Is(err, attendance.ErrDuplicateCode) {
			c.JSON(http.StatusConflict, gin.H{"error": "display code already in use"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, p)
	})

	adminGroup.POST("/participants/:id/registrations", func(c *gin.Context) {
		claims, _ := auth.FromContext(c)
		var req struct {
			SubEventID string `json:"sub_event_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, err := attStore.GetParticipant(c.Request.Context(), c.Param("id"))
		if errors.Is(err, attendance.ErrNotFound) || (err == nil && p.TenantID != claims.TenantID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		row, err := attStore.CreateRegistration(c.Request.Context(), p.ID, req.SubEventID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, row)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// CORS middleware for browser dashboards.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
