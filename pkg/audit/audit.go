// Package audit is the security audit sink. Every security-relevant failure
// (lockout, blacklist hit, session mismatch, rejected webhook, admin override)
// lands here as a structured JSON line with account/address/time.
package audit

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where audit lines go and how they rotate.
type Config struct {
	Path       string // audit log file; empty means stdout only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func DefaultConfig() Config {
	return Config{
		Path:       "logs/audit.log",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

// Logger writes audit events. It is safe for concurrent use.
type Logger struct {
	z *zap.Logger
}

func New(cfg Config) (*Logger, error) {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "event",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
	var sink zapcore.WriteSyncer
	if cfg.Path == "" {
		sink = zapcore.Lock(os.Stdout)
	} else {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		})
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), sink, zapcore.InfoLevel)
	return &Logger{z: zap.New(core)}, nil
}

// Nop returns a logger that discards everything (tests).
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

func (l *Logger) Sync() error {
	return l.z.Sync()
}

// LoginAttempt records a login attempt, successful or not.
func (l *Logger) LoginAttempt(contact, address string, ok bool) {
	l.z.Info("login_attempt",
		zap.String("contact", contact),
		zap.String("ip", address),
		zap.Bool("success", ok),
	)
}

// AccountLocked records a lockout engaging or rejecting an attempt.
func (l *Logger) AccountLocked(contact, address string, until time.Time) {
	l.z.Warn("account_locked",
		zap.String("contact", contact),
		zap.String("ip", address),
		zap.Time("locked_until", until),
	)
}

// BlacklistHit records a request rejected at the reputation layer.
func (l *Logger) BlacklistHit(address string) {
	l.z.Warn("ip_blacklisted", zap.String("ip", address))
}

// SuspiciousTraffic records the advisory automation flag. The request itself
// proceeds.
func (l *Logger) SuspiciousTraffic(address string) {
	l.z.Warn("suspicious_traffic", zap.String("ip", address))
}

// SessionMismatch records an origin or signature consistency failure.
func (l *Logger) SessionMismatch(kind string, accountID uint, address string) {
	l.z.Warn("session_mismatch",
		zap.String("kind", kind),
		zap.Uint("account_id", accountID),
		zap.String("ip", address),
	)
}

// WebhookRejected records a gateway callback that failed signature
// verification.
func (l *Logger) WebhookRejected(address string) {
	l.z.Warn("webhook_signature_rejected", zap.String("ip", address))
}

// PaymentEvent records a payment lifecycle change.
func (l *Logger) PaymentEvent(event string, accountID uint, txID, channel string) {
	l.z.Info("payment_"+event,
		zap.Uint("account_id", accountID),
		zap.String("transaction_id", txID),
		zap.String("channel", channel),
	)
}

// AdminOverride records an operator forcing payment state.
func (l *Logger) AdminOverride(admin string, accountID uint, paid bool, status string) {
	l.z.Warn("admin_payment_override",
		zap.String("admin", admin),
		zap.Uint("account_id", accountID),
		zap.Bool("paid", paid),
		zap.String("status", status),
	)
}
