package main

import (
	"errors"
	"net/http"
	"strings"

	"studentsnet/models"
	"studentsnet/pkg/session"
	"studentsnet/pkg/tokens"

	"github.com/gin-gonic/gin"
)

// clientAddr resolves the request's source address. Behind the load balancer
// the first X-Forwarded-For entry is the original client; otherwise fall back
// to the socket peer.
func clientAddr(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		if addr := strings.TrimSpace(fwd); addr != "" {
			return addr
		}
	}
	return c.ClientIP()
}

// reputationMiddleware runs first on every route. It records the request for
// the traffic heuristic, rejects blacklisted addresses outright with a generic
// message, and audits (but does not block) suspicious automation patterns.
func (a *App) reputationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := clientAddr(c)
		a.reputation.RecordRequest(addr)
		if a.reputation.IsBlacklisted(addr) {
			blacklistRejectionsTotal.Inc()
			a.audit.BlacklistHit(addr)
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		if a.reputation.IsSuspiciousTraffic(addr) {
			suspiciousTrafficTotal.Inc()
			a.audit.SuspiciousTraffic(addr)
		}
		c.Next()
	}
}

// authMiddleware validates the bearer token and stores the claims on the
// context. Expired, revoked and malformed tokens each get their own message so
// clients know whether to refresh or re-login.
func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		claims, err := a.tokens.Validate(authHeader[7:])
		if err != nil {
			msg := "invalid token"
			switch {
			case errors.Is(err, tokens.ErrExpired):
				msg = "token expired"
			case errors.Is(err, tokens.ErrRevoked):
				msg = "token revoked"
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": msg})
			c.Abort()
			return
		}
		c.Set("account_id", claims.AccountID)
		c.Set("role", claims.Role)
		c.Set("raw_token", authHeader[7:])
		c.Next()
	}
}

// sessionMiddleware enforces session consistency after token auth. A missing
// or mismatched session fails the request; the session itself stays live, a
// mismatch alone is not proof of theft and the legitimate client keeps working.
func (a *App) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Session-ID")
		if id == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
			c.Abort()
			return
		}
		addr := clientAddr(c)
		sess, err := a.sessions.Validate(id, addr, c.GetHeader("User-Agent"))
		if err != nil {
			kind := "invalid"
			switch {
			case errors.Is(err, session.ErrOriginMismatch):
				kind = "origin"
			case errors.Is(err, session.ErrSignatureMismatch):
				kind = "signature"
			case errors.Is(err, session.ErrSessionExpired):
				kind = "expired"
			}
			sessionMismatchTotal.WithLabelValues(kind).Inc()
			if kind == "origin" || kind == "signature" {
				a.audit.SessionMismatch(kind, accountID(c), addr)
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session validation failed"})
			c.Abort()
			return
		}
		if acct := accountID(c); acct != 0 && sess.AccountID != acct {
			sessionMismatchTotal.WithLabelValues("account").Inc()
			a.audit.SessionMismatch("account", acct, addr)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "session validation failed"})
			c.Abort()
			return
		}
		c.Set("session_id", sess.ID)
		c.Next()
	}
}

// requireAdmin gates operator routes on the administrator role claim.
func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if role, _ := c.Get("role"); role != "administrator" {
			c.JSON(http.StatusForbidden, gin.H{"error": "administrator role required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func accountID(c *gin.Context) uint {
	v, _ := c.Get("account_id")
	id, _ := v.(uint)
	return id
}

// currentUser fetches the authenticated account row.
func (a *App) currentUser(c *gin.Context) (*models.User, bool) {
	id := accountID(c)
	if id == 0 {
		return nil, false
	}
	var user models.User
	if err := a.db.First(&user, id).Error; err != nil {
		return nil, false
	}
	return &user, true
}
