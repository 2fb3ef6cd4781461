package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gudang/backend/internal/domain"
	"gudang/backend/internal/logger"
	"gudang/backend/internal/service"
	"gudang/backend/internal/xid"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	pinLimiter    *attemptLimiter
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		logger:        logger.Named(log, "http"),
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), a.accessLog(), a.securityHeaders())

	r.GET("/healthz", a.handleHealth)

	v1 := r.Group("/api/v1", a.requireAuth())

	tx := v1.Group("/supplier-transactions")
	tx.POST("", a.handleCreateDocument)
	tx.GET("", a.handleListDocuments)
	tx.GET("/:id", a.handleGetDocument)
	tx.PUT("/:id", a.handleUpdateDocument)
	tx.DELETE("/:id", a.handleDeleteDocument)
	tx.PATCH("/:id/prices", a.handleUpdatePrices)
	tx.POST("/:id/status", a.handleSetStatus)
	tx.POST("/:id/payments", a.handleRecordPayment)
	tx.POST("/:id/lock", a.handleSetAdminLock)
	tx.GET("/:id/audit-logs", a.handleAuditLogs)

	lots := v1.Group("/inventory/lots")
	lots.GET("", a.handleListLots)
	lots.GET("/available-for-out", a.handlePreviewOut)

	return r
}

func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = xid.New()
		}
		c.Header("X-Request-ID", requestID)

		c.Next()

		a.logger.Info("request completed",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

func (a *API) securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		h.Set("Vary", "Origin")

		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requireAuth resolves the bearer token into the request actor. Role policy
// per operation is enforced by the service.
func (a *API) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			abortStatus(c, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			abortStatus(c, http.StatusUnauthorized, err)
			return
		}
		if !isTokenRole(actor.Role) {
			abortStatus(c, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		c.Request = c.Request.WithContext(service.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

func isTokenRole(role string) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleStaff, domain.RoleManager, domain.RoleAccountant:
		return true
	}
	return false
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindLotMismatch, domain.KindInsufficientStock, domain.KindInvalidState:
		return http.StatusConflict
	case domain.KindDocumentLocked:
		return http.StatusLocked
	case domain.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(c *gin.Context, err error) {
	derr, ok := domain.AsError(err)
	if !ok {
		a.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "internal server error",
			"kind":    domain.KindInternal.String(),
		})
		return
	}

	status := statusFor(derr.Kind)
	body := gin.H{
		"success": false,
		"message": derr.Error(),
		"kind":    derr.Kind.String(),
	}
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		body["message"] = "internal server error"
	}
	if derr.Item > 0 {
		body["item"] = derr.Item
	}
	if derr.Field != "" {
		body["field"] = derr.Field
	}
	if derr.Kind == domain.KindInsufficientStock {
		body["shortfall"] = derr.Shortfall
	}
	c.JSON(status, body)
}

func abortStatus(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": err.Error(),
	})
}

func writeData(c *gin.Context, status int, payload any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    payload,
	})
}

func decodeJSON(c *gin.Context, dest any) error {
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return domain.Validation(0, "body", "invalid request body")
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
