package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sunridge-labs/leadvault/internal/buyers"
	"github.com/sunridge-labs/leadvault/internal/ratelimit"
	"github.com/sunridge-labs/leadvault/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "leadvault_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUserService   = errors.New("user service dependency required")
	errMissingLeadService   = errors.New("lead service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates API session tokens.
type TokenManager interface {
	IssueSessionToken(ctx context.Context, userID, email string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the underlying services.
type Dependencies struct {
	TokenManager  TokenManager
	UserService   *users.Service
	LeadService   *buyers.Service
	CreateLimiter ratelimit.Limiter
	UpdateLimiter ratelimit.Limiter
	Logger        *zap.Logger
}

// NewHTTPHandler builds the gin router for the lead API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UserService == nil {
		return nil, errMissingUserService
	}
	if deps.LeadService == nil {
		return nil, errMissingLeadService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:        deps.TokenManager,
		userService:   deps.UserService,
		leadService:   deps.LeadService,
		createLimiter: deps.CreateLimiter,
		updateLimiter: deps.UpdateLimiter,
		logger:        logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/buyers", handler.handleListLeads)
	protected.POST("/buyers", handler.rateLimit(deps.CreateLimiter), handler.handleCreateLead)
	protected.GET("/buyers/:id", handler.handleGetLead)
	protected.PUT("/buyers/:id", handler.rateLimit(deps.UpdateLimiter), handler.handleUpdateLead)
	protected.DELETE("/buyers/:id", handler.handleDeleteLead)
	protected.GET("/buyers/:id/history", handler.handleLeadHistory)
	protected.POST("/buyers/import", handler.handleImportCSV)
	protected.GET("/buyers/export", handler.handleExportCSV)
	protected.GET("/changes/recent", handler.handleRecentChanges)
	protected.GET("/analytics/summary", handler.handleSummary)
	protected.DELETE("/admin/data", handler.handleClearData)

	return router, nil
}

type httpHandler struct {
	tokens        TokenManager
	userService   *users.Service
	leadService   *buyers.Service
	createLimiter ratelimit.Limiter
	updateLimiter ratelimit.Limiter
	logger        *zap.Logger
}

type loginRequestPayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type loginResponsePayload struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
	TokenType   string     `json:"token_type"`
	User        users.User `json:"user"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.userService.EnsureUser(c.Request.Context(), request.Email, request.Name)
	if err != nil {
		if errors.Is(err, users.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
			return
		}
		h.logger.Error("failed to provision user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), user.ID, user.Email)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        user,
	})
}

type leadPayload struct {
	FullName     string   `json:"full_name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone"`
	City         string   `json:"city"`
	PropertyType string   `json:"property_type"`
	BHK          string   `json:"bhk"`
	Purpose      string   `json:"purpose"`
	BudgetMin    *int64   `json:"budget_min"`
	BudgetMax    *int64   `json:"budget_max"`
	Timeline     string   `json:"timeline"`
	Source       string   `json:"source"`
	Status       string   `json:"status"`
	Notes        string   `json:"notes"`
	Tags         []string `json:"tags"`
	// KnownUpdatedAt carries the caller's optimistic-concurrency token on
	// update, RFC 3339.
	KnownUpdatedAt string `json:"known_updated_at"`
}

func (p leadPayload) toInput() buyers.Input {
	return buyers.Input{
		FullName:     strings.TrimSpace(p.FullName),
		Email:        strings.TrimSpace(p.Email),
		Phone:        strings.TrimSpace(p.Phone),
		City:         p.City,
		PropertyType: p.PropertyType,
		BHK:          p.BHK,
		Purpose:      p.Purpose,
		BudgetMin:    p.BudgetMin,
		BudgetMax:    p.BudgetMax,
		Timeline:     p.Timeline,
		Source:       p.Source,
		Status:       p.Status,
		Notes:        p.Notes,
		Tags:         p.Tags,
	}
}

func (h *httpHandler) handleCreateLead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var payload leadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	lead, err := h.leadService.Create(c.Request.Context(), payload.toInput(), userID)
	if err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lead)
}

func (h *httpHandler) handleUpdateLead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var payload leadPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var knownUpdatedAt *time.Time
	if strings.TrimSpace(payload.KnownUpdatedAt) != "" {
		parsed, err := time.Parse(time.RFC3339, payload.KnownUpdatedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_known_updated_at"})
			return
		}
		knownUpdatedAt = &parsed
	}

	lead, err := h.leadService.Update(c.Request.Context(), c.Param("id"), payload.toInput(), knownUpdatedAt, userID)
	if err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (h *httpHandler) handleGetLead(c *gin.Context) {
	lead, err := h.leadService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, lead)
}

func (h *httpHandler) handleDeleteLead(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	if err := h.leadService.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *httpHandler) handleLeadHistory(c *gin.Context) {
	history, err := h.leadService.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (h *httpHandler) handleListLeads(c *gin.Context) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
			return
		}
		page = parsed
	}

	result, err := h.leadService.List(c.Request.Context(), buyers.ListRequest{
		Filters: filtersFromQuery(c),
		Sort:    c.Query("sort"),
		Page:    page,
	})
	if err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleImportCSV(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	report, err := h.leadService.ImportCSV(c.Request.Context(), string(body), userID)
	if err != nil {
		h.logger.Error("csv import failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) handleExportCSV(c *gin.Context) {
	csvText, err := h.leadService.ExportCSV(c.Request.Context(), filtersFromQuery(c))
	if err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="leads.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(csvText))
}

func (h *httpHandler) handleRecentChanges(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	changes, err := h.leadService.RecentChanges(c.Request.Context(), userID)
	if err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": changes})
}

func (h *httpHandler) handleSummary(c *gin.Context) {
	summary, err := h.leadService.Summarize(c.Request.Context())
	if err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleClearData(c *gin.Context) {
	if err := h.leadService.ClearAll(c.Request.Context()); err != nil {
		h.respondLeadError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func filtersFromQuery(c *gin.Context) buyers.ListFilters {
	return buyers.ListFilters{
		Search:       c.Query("search"),
		City:         c.Query("city"),
		PropertyType: c.Query("propertyType"),
		Status:       c.Query("status"),
		Timeline:     c.Query("timeline"),
	}
}

func (h *httpHandler) respondLeadError(c *gin.Context, err error) {
	var validationErr *buyers.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "validation_failed",
			"violations": validationErr.Violations,
		})
	case errors.Is(err, buyers.ErrLeadNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, buyers.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, buyers.ErrStaleRecord):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "record changed, please refresh and try again"})
	default:
		h.logger.Error("lead request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

// rateLimit throttles by authenticated user, falling back to client address.
// Limiter backend failures log and fail open.
func (h *httpHandler) rateLimit(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		id := c.GetString(userIDContextKey)
		if id == "" {
			id = clientAddress(c)
		}

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), id)
		if err != nil {
			h.logger.Warn("rate limiter unavailable", zap.Error(err))
		}
		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}

func clientAddress(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.ClientIP()
}
