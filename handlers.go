package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"studentsnet/models"
	"studentsnet/pkg/audit"
	"studentsnet/pkg/guard"
	"studentsnet/pkg/payment"
	"studentsnet/pkg/reputation"
	"studentsnet/pkg/session"
	"studentsnet/pkg/tokens"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// App wires the security and payment components behind the HTTP surface.
type App struct {
	cfg        *Config
	db         *gorm.DB
	tokens     *tokens.Authority
	guard      *guard.Guard
	reputation *reputation.Monitor
	sessions   *session.Store
	payments   *payment.Machine
	audit      *audit.Logger
}

func (a *App) setupRoutes(r *gin.Engine) {
	r.Use(a.reputationMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/register", a.registerHandler)
	r.POST("/login", a.loginHandler)
	r.POST("/refresh", a.refreshHandler)
	r.POST("/payment/webhook", a.webhookHandler)

	authGroup := r.Group("")
	authGroup.Use(a.authMiddleware(), a.sessionMiddleware())
	authGroup.GET("/me", a.meHandler)
	authGroup.POST("/logout", a.logoutHandler)
	authGroup.POST("/payment/session", a.openPaymentSessionHandler)
	authGroup.GET("/payment/status/:id", a.paymentStatusHandler)
	authGroup.POST("/payment/evidence", a.uploadEvidenceHandler)
	authGroup.GET("/payment", a.listPaymentsHandler)

	adminGroup := authGroup.Group("/admin")
	adminGroup.Use(requireAdmin())
	adminGroup.GET("/users", a.listUsersHandler)
	adminGroup.GET("/users/:id/payments", a.listUserPaymentsHandler)
	adminGroup.DELETE("/users/:id", a.deleteUserHandler)
	adminGroup.POST("/payment/override", a.overridePaymentHandler)
	adminGroup.POST("/payment/reject", a.rejectPaymentHandler)
}

func (a *App) registerHandler(c *gin.Context) {
	var req struct {
		Contact  string `json:"contact" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := RegisterUser(a.db, req.Contact, req.Name, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": user.ID, "contact": user.Contact})
}

func (a *App) loginHandler(c *gin.Context) {
	var req struct {
		Contact    string `json:"contact" binding:"required"`
		Password   string `json:"password" binding:"required"`
		RememberMe bool   `json:"remember_me"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	addr := clientAddr(c)

	user, err := findUserByContact(a.db, req.Contact)
	if err != nil {
		// Unknown accounts burn the same failure budget as wrong passwords,
		// and get the same response, so contacts cannot be enumerated.
		a.reputation.RecordFailure(addr)
		loginFailuresTotal.Inc()
		a.audit.LoginAttempt(req.Contact, addr, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if err := a.guard.Check(user); err != nil {
		var locked *guard.LockedError
		if errors.As(err, &locked) {
			a.audit.AccountLocked(user.Contact, addr, locked.Until)
			c.Header("Retry-After", retryAfter(locked.Remaining))
			c.JSON(http.StatusLocked, gin.H{
				"error":               "account temporarily locked",
				"retry_after_seconds": int(locked.Remaining.Seconds()) + 1,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login unavailable"})
		return
	}

	if !verifyPassword(user, req.Password) {
		wasLocked := user.LockedUntil != nil
		if err := a.guard.RecordFailure(user); err == nil && !wasLocked && user.LockedUntil != nil {
			accountLockoutsTotal.Inc()
			a.audit.AccountLocked(user.Contact, addr, *user.LockedUntil)
		}
		a.reputation.RecordFailure(addr)
		loginFailuresTotal.Inc()
		a.audit.LoginAttempt(user.Contact, addr, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	if err := a.guard.RecordSuccess(user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login unavailable"})
		return
	}

	tokenString, err := a.tokens.Issue(user.ID, a.roleName(user), a.cfg.tokenTTL(req.RememberMe))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	sess := a.sessions.Create(user.ID, addr, c.GetHeader("User-Agent"))
	refreshToken, err := a.createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	a.audit.LoginAttempt(user.Contact, addr, true)
	c.JSON(http.StatusOK, gin.H{
		"message":        "login successful",
		"token":          tokenString,
		"refresh_token":  refreshToken,
		"session_id":     sess.ID,
		"payment_status": user.PaymentStatus,
	})
}

func (a *App) meHandler(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"contact":        user.Contact,
		"name":           user.Name,
		"college":        user.College,
		"class_name":     user.ClassName,
		"stream":         user.Stream,
		"role":           a.roleName(user),
		"payment_paid":   user.PaymentPaid,
		"payment_status": user.PaymentStatus,
	})
}

// logoutHandler revokes the bearer token, drops the session and revokes the
// presented refresh token if any.
func (a *App) logoutHandler(c *gin.Context) {
	if raw, ok := c.Get("raw_token"); ok {
		if s, ok := raw.(string); ok {
			_ = a.tokens.Revoke(s)
		}
	}
	if id, ok := c.Get("session_id"); ok {
		if s, ok := id.(string); ok {
			a.sessions.Invalidate(s)
		}
	}
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err == nil && req.RefreshToken != "" {
		if rt, err := a.findRefreshTokenByRaw(req.RefreshToken); err == nil {
			a.db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// refreshHandler exchanges a refresh token for a new access token and rotates
// the refresh token.
func (a *App) refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := a.findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := a.db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	tokenString, err := a.tokens.Issue(user.ID, a.roleName(&user), a.cfg.tokenTTL(false))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate: revoke the presented token before minting its replacement
	a.db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := a.createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash
// with expiry and returns the raw token string. Each account holds a bounded
// number of live refresh tokens; the oldest get revoked to make room.
func (a *App) createAndStoreRefreshToken(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])

	var active []models.RefreshToken
	if err := a.db.Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, time.Now()).
		Order("created_at asc").Find(&active).Error; err == nil {
		for i := 0; i+a.cfg.MaxActiveRefresh <= len(active); i++ {
			a.db.Model(&models.RefreshToken{}).Where("id = ?", active[i].ID).Update("revoked", true)
		}
	}

	rt := models.RefreshToken{
		UserID:    userID,
		TokenHash: th,
		ExpiresAt: time.Now().Add(time.Duration(a.cfg.RefreshTokenDays) * 24 * time.Hour),
	}
	if err := a.db.Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

func (a *App) findRefreshTokenByRaw(token string) (*models.RefreshToken, error) {
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	var rt models.RefreshToken
	if err := a.db.Where("token_hash = ?", th).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// roleName resolves the role display name from RoleID (we only store role_id).
func (a *App) roleName(user *models.User) string {
	if user.RoleID == nil {
		return ""
	}
	var r models.Role
	if err := a.db.First(&r, *user.RoleID).Error; err != nil {
		return ""
	}
	return r.Name
}

func retryAfter(d time.Duration) string {
	secs := int(d.Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
