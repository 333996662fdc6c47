// Package portal serves the attendance portal HTTP API consumed by the browser.
package portal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"attendanceportal/internal/apiclient"
	"attendanceportal/internal/auth"
	"attendanceportal/internal/config"
	"attendanceportal/internal/grid"
	"attendanceportal/internal/httpmiddleware"
	"attendanceportal/internal/metrics"
	"attendanceportal/internal/model"
	"attendanceportal/internal/recovery"
	"attendanceportal/internal/session"
)

// Handler holds the dependencies of every portal route.
type Handler struct {
	Config    config.App
	Sessions  *session.Manager
	Loader    *grid.Loader
	Recovery  *recovery.Service
	Workflows *recovery.Registry
	Limiter   httpmiddleware.Limiter
	Metrics   *metrics.Recorder
	// MetricsHandler serves /metrics; promhttp.Handler() when nil.
	MetricsHandler http.Handler
	// Health reports named dependency checks for /healthz.
	Health func(ctx context.Context) map[string]bool
	Log    *zap.Logger
	Now    func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Router builds the gin engine with every middleware and route.
func (h *Handler) Router() *gin.Engine {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(accessLog(h.Log, "/healthz", "/metrics"))
	r.Use(corsMiddleware(h.Config.CORSOrigin))
	r.Use(securityHeaders())

	metricsHandler := h.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1")
	public := v1.Group("", h.rateLimit(httpmiddleware.ClientIP))
	public.POST("/auth/login", h.login)
	public.POST("/auth/register", h.register)
	public.POST("/auth/refresh", h.refresh)

	authed := v1.Group("",
		auth.SessionAuth(h.Config.JWTSigningKey, h.Config.JWTIssuer, h.Sessions),
		h.rateLimit(httpmiddleware.ContextKey(auth.SessionIDKey)))
	authed.POST("/auth/logout", h.logout)
	authed.GET("/me", h.me)
	authed.GET("/me/courses", h.myCourses)

	teacher := authed.Group("", auth.RequireRole(model.RoleTeacher))
	teacher.GET("/courses/:code/grid", h.courseGrid)
	teacher.GET("/courses/:code/grid.xlsx", h.courseGridXLSX)
	teacher.PUT("/courses/:code/grid", h.saveGrid)
	teacher.POST("/courses/:code/schedules/:scheduleID/start", h.startAttendance)

	student := authed.Group("", auth.RequireRole(model.RoleStudent))
	student.GET("/courses/:code/mine", h.myAttendance)
	student.GET("/me/biometrics", h.biometricsStatus)
	student.POST("/me/biometrics", h.uploadBiometrics)
	student.POST("/recovery", h.startRecovery)
	student.POST("/recovery/match", h.matchPhoto)
	student.GET("/recovery/:id", h.recoveryState)
	student.POST("/recovery/:id/courses/:courseID/toggle", h.toggleCourse)
	student.POST("/recovery/:id/continue", h.continueRecovery)
	student.POST("/recovery/:id/back", h.backRecovery)
	student.POST("/recovery/:id/matches/:matchID/toggle", h.toggleMatch)
	student.POST("/recovery/:id/submit", h.submitRecovery)
	student.DELETE("/recovery/:id", h.discardRecovery)

	return r
}

// rateLimit throttles by key; a nil Limiter disables it.
func (h *Handler) rateLimit(key httpmiddleware.KeyFunc) gin.HandlerFunc {
	if h.Limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return httpmiddleware.RateLimit(h.Limiter, key, h.Log)
}

func (h *Handler) healthz(c *gin.Context) {
	checks := map[string]bool{}
	if h.Health != nil {
		checks = h.Health(c.Request.Context())
	}
	status := http.StatusOK
	for _, ok := range checks {
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}

// fail maps err onto a response status.
func (h *Handler) fail(c *gin.Context, err error) {
	var wrongState *recovery.WrongStateError
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, recovery.ErrNoCourseSelected),
		errors.Is(err, recovery.ErrNoMatchSelected),
		errors.Is(err, recovery.ErrUnknownMatch),
		errors.Is(err, recovery.ErrUnknownCourse):
		status = http.StatusBadRequest
	case errors.As(err, &wrongState):
		status = http.StatusConflict
	case errors.Is(err, recovery.ErrWorkflowNotFound),
		errors.Is(err, grid.ErrStudentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrNotFound),
		apiclient.IsUnauthorized(err):
		status = http.StatusUnauthorized
	default:
		if upstream := apiclient.StatusOf(err); upstream >= 400 && upstream < 500 {
			status = upstream
		}
	}
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(apiclient.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(apiclient.RequestIDHeader, id)
		c.Request = c.Request.WithContext(apiclient.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog(log *zap.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if skip[c.Request.URL.Path] {
			return
		}
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.Writer.Header().Get(apiclient.RequestIDHeader)))
	}
}

// CORS middleware for browser requests. An empty allowed origin echoes the caller.
func corsMiddleware(allowed string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := allowed
		if origin == "" {
			origin = c.Request.Header.Get("Origin")
		}
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

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
