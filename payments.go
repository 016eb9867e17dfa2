package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"studentsnet/models"
	"studentsnet/pkg/evidence"
	"studentsnet/pkg/payment"

	"github.com/gin-gonic/gin"
)

// openPaymentSessionHandler starts a gateway checkout for the membership fee
// and returns the redirect URL.
func (a *App) openPaymentSessionHandler(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	tx, redirectURL, err := a.payments.OpenGatewaySession(c.Request.Context(), user.ID, a.cfg.MembershipFee, a.cfg.Currency)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrAlreadyPaid):
			c.JSON(http.StatusConflict, gin.H{"error": "membership already paid"})
		case errors.Is(err, payment.ErrDuplicatePending):
			c.JSON(http.StatusConflict, gin.H{"error": "a pending payment already exists"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
		}
		return
	}
	paymentTransitionsTotal.WithLabelValues(models.ChannelGateway, models.StatusPending).Inc()
	a.audit.PaymentEvent("submitted", user.ID, tx.ID, models.ChannelGateway)
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": tx.ID,
		"session_id":     tx.GatewaySessionID,
		"redirect_url":   redirectURL,
		"amount":         tx.Amount,
		"currency":       tx.Currency,
	})
}

// paymentStatusHandler polls the gateway for the transaction and applies the
// paid transition when settlement is reported. The callback and this poll are
// interchangeable; whichever arrives first wins, the other is a no-op.
// Ownership is checked before the gateway is touched, so a guessed transaction
// id cannot be used to generate gateway traffic.
func (a *App) paymentStatusHandler(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	tx, err := a.payments.Transaction(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if tx.UserID != user.ID && a.roleName(user) != "administrator" {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	tx, err = a.payments.PollStatus(c.Request.Context(), tx.ID)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
		return
	}
	if tx.Status == models.StatusPaid {
		a.audit.PaymentEvent("settled", tx.UserID, tx.ID, tx.Channel)
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": tx.ID, "status": tx.Status})
}

// webhookHandler receives asynchronous gateway callbacks. Unauthenticated by
// design; the HMAC signature is the only trust anchor, and it is checked
// before the body is parsed at all.
func (a *App) webhookHandler(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	tx, err := a.payments.HandleCallback(body, c.GetHeader("X-Webhook-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidSignature):
			webhookRejectionsTotal.Inc()
			a.audit.WebhookRejected(clientAddr(c))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		case errors.Is(err, payment.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	if tx.Status == models.StatusPaid {
		paymentTransitionsTotal.WithLabelValues(tx.Channel, models.StatusPaid).Inc()
		a.audit.PaymentEvent("settled", tx.UserID, tx.ID, tx.Channel)
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": tx.ID, "status": tx.Status})
}

// uploadEvidenceHandler accepts a receipt image as manual payment evidence and
// opens a pending transaction for operator review. The claimed amount comes
// from the form when given, otherwise OCR over the receipt, otherwise the
// standard membership fee.
func (a *App) uploadEvidenceHandler(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if err := evidence.ValidateUpload(file.Filename, file.Header.Get("Content-Type"), file.Size, a.cfg.maxEvidenceBytes()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	decodeErr := evidence.DecodeCheck(src)
	src.Close()
	if decodeErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is not a valid image"})
		return
	}

	userDir := filepath.Join(a.cfg.EvidenceDir, fmt.Sprintf("user-%d", user.ID))
	if err := os.MkdirAll(userDir, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "mkdir failed"})
		return
	}
	storedName := fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(file.Filename))
	fullPath := filepath.Join(userDir, storedName)
	if err := c.SaveUploadedFile(file, fullPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}

	record := models.EvidenceFile{
		UserID:      user.ID,
		FileName:    file.Filename,
		StorePath:   fullPath,
		ContentType: file.Header.Get("Content-Type"),
		SizeBytes:   file.Size,
	}

	amount := a.cfg.MembershipFee
	if v := c.PostForm("amount"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			amount = parsed
		}
	} else if ocrAmount, err := evidence.ReadAmount(fullPath); err == nil {
		amount = ocrAmount
		record.OCRAmount = ocrAmount
	} else {
		record.FailedReason = "ocr: " + err.Error()
	}

	tx, err := a.payments.Submit(user.ID, models.ChannelEvidence, amount, a.cfg.Currency)
	if err != nil {
		record.Failed = true
		if record.FailedReason == "" {
			record.FailedReason = err.Error()
		}
		a.db.Create(&record)
		switch {
		case errors.Is(err, payment.ErrAlreadyPaid):
			c.JSON(http.StatusConflict, gin.H{"error": "membership already paid"})
		case errors.Is(err, payment.ErrDuplicatePending):
			c.JSON(http.StatusConflict, gin.H{"error": "a pending payment already exists"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record payment"})
		}
		return
	}
	record.TransactionID = &tx.ID
	if err := a.db.Create(&record).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record evidence"})
		return
	}
	paymentTransitionsTotal.WithLabelValues(models.ChannelEvidence, models.StatusPending).Inc()
	a.audit.PaymentEvent("submitted", user.ID, tx.ID, models.ChannelEvidence)
	c.JSON(http.StatusCreated, gin.H{
		"transaction_id": tx.ID,
		"evidence_id":    record.ID,
		"amount":         tx.Amount,
		"status":         tx.Status,
	})
}

// listPaymentsHandler returns the account's payment history, newest first.
func (a *App) listPaymentsHandler(c *gin.Context) {
	user, ok := a.currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	txs, err := a.payments.Transactions(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list payments"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payment_paid":   user.PaymentPaid,
		"payment_status": user.PaymentStatus,
		"transactions":   txs,
	})
}
