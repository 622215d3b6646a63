package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"certdao/internal/config"
	"certdao/internal/database"
	"certdao/internal/models"
	"certdao/internal/registry"
	"certdao/internal/services"
)

// Handler holds service dependencies
type Handler struct {
	registry    *registry.Registry
	db          *gorm.DB
	authService *services.AuthService
	events      *database.EventLog
	monitor     *services.ExpiryMonitor
}

// NewHandler creates a new API handler
func NewHandler(reg *registry.Registry, db *gorm.DB, authService *services.AuthService, events *database.EventLog, monitor *services.ExpiryMonitor) *Handler {
	return &Handler{
		registry:    reg,
		db:          db,
		authService: authService,
		events:      events,
		monitor:     monitor,
	}
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, handler *Handler) {
	api := r.Group("/api/v1")
	{
		// Authentication (no auth required)
		api.POST("/auth/login", handler.Login)
		api.POST("/auth/validate", handler.ValidateToken)
		api.POST("/auth/change-password", handler.ChangePassword)

		// Public queries
		api.GET("/administrator", handler.GetAdministrator)
		api.GET("/verify", handler.Verify)
		api.GET("/registrations/:subject", handler.GetRegistration)
		api.GET("/registrations/:subject/owner", handler.GetOwner)
		api.GET("/registrations/:subject/status", handler.GetStatus)

		// Lifecycle (authenticated caller)
		authed := api.Group("", handler.RequireCaller)
		authed.POST("/registrations", handler.Submit)
		authed.POST("/registrations/:subject/approve", handler.Approve)
		authed.POST("/registrations/:subject/renew", handler.Renew)
		authed.POST("/registrations/:subject/revoke", handler.Revoke)

		// Administration
		admin := authed.Group("", handler.RequireAdministrator)
		admin.GET("/registrations", handler.ListRegistrations)
		admin.GET("/events", handler.ListEvents)
		admin.GET("/balance", handler.GetBalance)
		admin.GET("/dashboard/stats", handler.GetStats)
		admin.GET("/notifications", handler.ListNotifications)
		admin.GET("/settings", handler.GetSettings)
		admin.PUT("/settings", handler.UpdateSettings)
		admin.POST("/monitor/check", handler.RunExpiryCheck)
	}
}

type registrationView struct {
	Subject     string     `json:"subject"`
	Domain      string     `json:"domain"`
	Owner       string     `json:"owner"`
	Metadata    string     `json:"metadata"`
	Status      string     `json:"status"`
	FeePaid     string     `json:"fee_paid"`
	SubmittedAt time.Time  `json:"submitted_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

func newRegistrationView(reg *registry.Registration, status registry.Status) registrationView {
	return registrationView{
		Subject:     reg.Subject.String(),
		Domain:      reg.Domain,
		Owner:       reg.Owner.String(),
		Metadata:    reg.Metadata,
		Status:      string(status),
		FeePaid:     reg.FeePaid.String(),
		SubmittedAt: reg.SubmittedAt,
		ApprovedAt:  optionalTime(reg.ApprovedAt),
		ExpiresAt:   optionalTime(reg.ExpiresAt),
		RevokedAt:   optionalTime(reg.RevokedAt),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

type eventView struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Subject   string     `json:"subject"`
	Domain    string     `json:"domain"`
	Actor     string     `json:"actor"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	At        time.Time  `json:"at"`
}

func newEventView(e *models.Event) eventView {
	return eventView{
		ID:        e.EventID,
		Kind:      e.Kind,
		Subject:   e.Subject,
		Domain:    e.Domain,
		Actor:     e.Actor,
		Value:     registry.Amount(e.Value).String(),
		ExpiresAt: optionalTime(e.ExpiresAt),
		At:        e.At,
	}
}

// Submit submits a domain for validation on behalf of the caller
func (h *Handler) Submit(c *gin.Context) {
	var req struct {
		Domain   string `json:"domain" binding:"required"`
		Subject  string `json:"subject" binding:"required"`
		Metadata string `json:"metadata"`
		Value    string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller, ok := h.callerWithValue(c, req.Value)
	if !ok {
		return
	}

	subject := registry.Identity(req.Subject)
	if err := h.registry.Submit(c.Request.Context(), caller, req.Domain, subject, req.Metadata); err != nil {
		respondError(c, err)
		return
	}

	h.respondRegistration(c, http.StatusCreated, subject)
}

// Approve approves a pending registration
func (h *Handler) Approve(c *gin.Context) {
	subject := registry.Identity(c.Param("subject"))
	if err := h.registry.Approve(c.Request.Context(), callerFrom(c), subject); err != nil {
		respondError(c, err)
		return
	}
	h.respondRegistration(c, http.StatusOK, subject)
}

// Renew renews a registration for another validity period
func (h *Handler) Renew(c *gin.Context) {
	var req struct {
		Domain string `json:"domain" binding:"required"`
		Value  string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	caller, ok := h.callerWithValue(c, req.Value)
	if !ok {
		return
	}

	subject := registry.Identity(c.Param("subject"))
	if err := h.registry.Renew(c.Request.Context(), caller, subject, req.Domain); err != nil {
		respondError(c, err)
		return
	}
	h.respondRegistration(c, http.StatusOK, subject)
}

// Revoke revokes a registration
func (h *Handler) Revoke(c *gin.Context) {
	subject := registry.Identity(c.Param("subject"))
	if err := h.registry.Revoke(c.Request.Context(), callerFrom(c), subject); err != nil {
		respondError(c, err)
		return
	}
	h.respondRegistration(c, http.StatusOK, subject)
}

// Verify answers whether a domain is currently certified for a subject
func (h *Handler) Verify(c *gin.Context) {
	subject := c.Query("subject")
	domain := c.Query("domain")
	if subject == "" || domain == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subject and domain are required"})
		return
	}

	verified := h.registry.Verify(c.Request.Context(), registry.Identity(subject), domain)
	c.JSON(http.StatusOK, gin.H{
		"subject":  subject,
		"domain":   domain,
		"verified": verified,
	})
}

// GetAdministrator returns the identity allowed to approve and revoke
func (h *Handler) GetAdministrator(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"administrator": h.registry.Administrator()})
}

// GetRegistration retrieves a single registration
func (h *Handler) GetRegistration(c *gin.Context) {
	h.respondRegistration(c, http.StatusOK, registry.Identity(c.Param("subject")))
}

// GetOwner retrieves the owner of a registration
func (h *Handler) GetOwner(c *gin.Context) {
	owner, err := h.registry.Owner(c.Request.Context(), registry.Identity(c.Param("subject")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": c.Param("subject"), "owner": owner})
}

// GetStatus retrieves the current status of a registration
func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.registry.Status(c.Request.Context(), registry.Identity(c.Param("subject")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subject": c.Param("subject"), "status": status})
}

// ListRegistrations retrieves all registrations
func (h *Handler) ListRegistrations(c *gin.Context) {
	entries, err := h.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	filter := registry.Status(c.Query("status"))
	views := make([]registrationView, 0, len(entries))
	for _, e := range entries {
		if filter != "" && e.Status != filter {
			continue
		}
		views = append(views, newRegistrationView(e.Registration, e.Status))
	}
	c.JSON(http.StatusOK, views)
}

// ListEvents retrieves the event history, newest first
func (h *Handler) ListEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}

	events, err := h.events.List(c.Request.Context(), registry.Identity(c.Query("subject")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]eventView, len(events))
	for i := range events {
		views[i] = newEventView(&events[i])
	}
	c.JSON(http.StatusOK, views)
}

// GetBalance retrieves the fees collected by the registry
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.registry.Balance(c.Request.Context(), callerFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance.String()})
}

// GetStats retrieves dashboard statistics
func (h *Handler) GetStats(c *gin.Context) {
	entries, err := h.registry.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	counts := map[registry.Status]int{}
	expiringSoon := 0
	now := h.registry.Now()
	for _, e := range entries {
		counts[e.Status]++
		if e.Status == registry.StatusApproved && e.Registration.ExpiresAt.Sub(now) <= 30*24*time.Hour {
			expiringSoon++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":         len(entries),
		"pending":       counts[registry.StatusPending],
		"approved":      counts[registry.StatusApproved],
		"expired":       counts[registry.StatusExpired],
		"revoked":       counts[registry.StatusRevoked],
		"expiring_soon": expiringSoon,
	})
}

// ListNotifications retrieves notification history
func (h *Handler) ListNotifications(c *gin.Context) {
	var notifications []models.Notification
	if err := h.db.Order("sent_at desc").Limit(100).Find(&notifications).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, notifications)
}

// GetSettings retrieves system settings
func (h *Handler) GetSettings(c *gin.Context) {
	settings, err := database.LoadSettings(h.db)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, settings)
}

// UpdateSettings updates system settings
func (h *Handler) UpdateSettings(c *gin.Context) {
	var settings map[string]string
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for key := range settings {
		if key != database.AdministratorKey && !config.IsSettingKey(key) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting " + key})
			return
		}
	}

	if err := database.SaveSettings(h.db, settings); err != nil {
		if errors.Is(err, database.ErrAdministratorChanged) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Alert thresholds apply immediately; everything else on restart
	if val, ok := settings["monitor.alert_days"]; ok && h.monitor != nil {
		if days := config.ParseAlertDays(val); len(days) > 0 {
			h.monitor.SetAlertDays(days)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "Settings updated successfully"})
}

// RunExpiryCheck runs the expiry monitor now
func (h *Handler) RunExpiryCheck(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "expiry monitor not available"})
		return
	}

	sent, err := h.monitor.CheckAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": sent})
}

func (h *Handler) respondRegistration(c *gin.Context, code int, subject registry.Identity) {
	reg, status, err := h.registry.Lookup(c.Request.Context(), subject)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(code, newRegistrationView(reg, status))
}

func (h *Handler) callerWithValue(c *gin.Context, value string) (registry.Caller, bool) {
	caller := callerFrom(c)
	amount, err := registry.ParseAmount(value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return caller, false
	}
	caller.Value = amount
	return caller, true
}

// respondError writes a rejection with its stable code
func respondError(c *gin.Context, err error) {
	code := registry.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case "InsufficientFee":
		status = http.StatusPaymentRequired
	case "FeeOverflow":
		status = http.StatusUnprocessableEntity
	case "AlreadyRegistered", "Revoked", "NotApproved":
		status = http.StatusConflict
	case "Unauthorized":
		status = http.StatusForbidden
	case "NotFound":
		status = http.StatusNotFound
	case "DomainMismatch", "InvalidDomain", "InvalidSubject":
		status = http.StatusBadRequest
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		message = "internal error"
	}
	c.JSON(status, gin.H{"error": message, "code": code})
}
