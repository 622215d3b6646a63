package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"certdao/internal/models"
	"certdao/internal/registry"
	"certdao/internal/services"
)

const callerKey = "certdao.caller"

// RequireCaller authenticates the bearer token and records the caller identity
func (h *Handler) RequireCaller(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	identity, err := h.authService.Authenticate(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	c.Set(callerKey, identity)
	c.Next()
}

// RequireAdministrator lets only the registry administrator through
func (h *Handler) RequireAdministrator(c *gin.Context) {
	if callerFrom(c).Identity != h.registry.Administrator() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": registry.ErrUnauthorized.Error(), "code": "Unauthorized"})
		return
	}
	c.Next()
}

func callerFrom(c *gin.Context) registry.Caller {
	identity, _ := c.Get(callerKey)
	id, _ := identity.(registry.Identity)
	return registry.Caller{Identity: id}
}

var (
	errBadCredentials  = errors.New("invalid username or password")
	errAccountDisabled = errors.New("account disabled")
)

// checkCredentials returns the active account matching username and password
func (h *Handler) checkCredentials(username, password string) (*models.User, error) {
	var user models.User
	if err := h.db.Where("username = ?", username).First(&user).Error; err != nil {
		return nil, errBadCredentials
	}
	if !h.authService.CheckPassword(user.Password, password) {
		return nil, errBadCredentials
	}
	if !user.IsActive {
		return nil, errAccountDisabled
	}
	return &user, nil
}

func userView(id uint, username, identity, email string) gin.H {
	view := gin.H{"id": id, "username": username, "identity": identity}
	if email != "" {
		view["email"] = email
	}
	return view
}

// Login exchanges credentials for a bearer token
func (h *Handler) Login(c *gin.Context) {
	var creds struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&creds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}

	user, err := h.checkCredentials(creds.Username, creds.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  userView(user.ID, user.Username, user.Identity, user.Email),
	})
}

// ValidateToken reports who a token acts as
func (h *Handler) ValidateToken(c *gin.Context) {
	var body struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	claims, err := h.authService.ValidateToken(body.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	resp := gin.H{
		"valid": true,
		"user":  userView(claims.UserID, claims.Username, claims.Identity, ""),
	}
	if claims.ExpiresAt != nil {
		resp["expires_at"] = claims.ExpiresAt.Time
	}
	c.JSON(http.StatusOK, resp)
}

// ChangePassword replaces the password of an active account. Tokens issued
// before the change stay valid until they expire.
func (h *Handler) ChangePassword(c *gin.Context) {
	var body struct {
		Username    string `json:"username" binding:"required"`
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username, old_password and new_password are required"})
		return
	}
	if len(body.NewPassword) < services.MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("new password must be at least %d characters", services.MinPasswordLength)})
		return
	}

	user, err := h.checkCredentials(body.Username, body.OldPassword)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	hash, err := h.authService.HashPassword(body.NewPassword)
	if err == nil {
		err = h.db.Model(user).Updates(map[string]interface{}{
			"password":   hash,
			"updated_at": time.Now(),
		}).Error
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password changed"})
}
