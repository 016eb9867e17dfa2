package main

import (
	"errors"
	"net/http"
	"strconv"

	"studentsnet/models"
	"studentsnet/pkg/payment"

	"github.com/gin-gonic/gin"
)

// listUsersHandler returns account and security state for operator review.
func (a *App) listUsersHandler(c *gin.Context) {
	var users []models.User
	if err := a.db.Order("id asc").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	out := make([]gin.H, 0, len(users))
	for i := range users {
		u := &users[i]
		entry := gin.H{
			"id":              u.ID,
			"contact":         u.Contact,
			"name":            u.Name,
			"payment_paid":    u.PaymentPaid,
			"payment_status":  u.PaymentStatus,
			"failed_attempts": u.FailedAttemptCount,
			"recent_failures": a.guard.RecentFailures(u.ID),
		}
		if u.LockedUntil != nil {
			entry["locked_until"] = u.LockedUntil
		}
		if u.LastLoginAt != nil {
			entry["last_login_at"] = u.LastLoginAt
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// deleteUserHandler removes an account along with its live sessions and
// refresh tokens. Deletion is unconditional; payment state does not protect an
// account from removal.
func (a *App) deleteUserHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	var user models.User
	if err := a.db.First(&user, uint(id)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	if err := a.db.Delete(&user).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}
	a.sessions.InvalidateAccount(user.ID)
	a.db.Model(&models.RefreshToken{}).Where("user_id = ?", user.ID).Update("revoked", true)
	c.JSON(http.StatusOK, gin.H{"message": "user deleted", "id": user.ID})
}

// listUserPaymentsHandler returns any account's payment history for review.
func (a *App) listUserPaymentsHandler(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	txs, err := a.payments.Transactions(uint(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list payments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "transactions": txs})
}

// overridePaymentHandler lets an operator force an account's payment state.
// Setting paid also promotes the account's pending transactions.
func (a *App) overridePaymentHandler(c *gin.Context) {
	var req struct {
		UserID uint   `json:"user_id" binding:"required"`
		Paid   bool   `json:"paid"`
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status != "" &&
		req.Status != models.PaymentUnpaid &&
		req.Status != models.PaymentPending &&
		req.Status != models.PaymentPaid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	if err := a.payments.AdminOverride(req.UserID, req.Paid, req.Status); err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "override failed"})
		return
	}
	admin, _ := a.currentUser(c)
	adminContact := ""
	if admin != nil {
		adminContact = admin.Contact
	}
	if req.Paid || req.Status == models.PaymentPaid {
		paymentTransitionsTotal.WithLabelValues(models.ChannelAdmin, models.StatusPaid).Inc()
	}
	a.audit.AdminOverride(adminContact, req.UserID, req.Paid, req.Status)
	c.JSON(http.StatusOK, gin.H{"message": "payment state updated"})
}

// rejectPaymentHandler rejects a pending manual submission. The account drops
// back to unpaid and may submit again.
func (a *App) rejectPaymentHandler(c *gin.Context) {
	var req struct {
		TransactionID string `json:"transaction_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := a.payments.Reject(req.TransactionID); err != nil {
		switch {
		case errors.Is(err, payment.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		case errors.Is(err, payment.ErrNotPending):
			c.JSON(http.StatusConflict, gin.H{"error": "transaction is not pending"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reject failed"})
		}
		return
	}
	paymentTransitionsTotal.WithLabelValues(models.ChannelEvidence, models.StatusRejected).Inc()
	c.JSON(http.StatusOK, gin.H{"message": "transaction rejected"})
}
