package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"studentsnet/models"
	"studentsnet/pkg/audit"
	"studentsnet/pkg/evidence"
	"studentsnet/pkg/guard"
	"studentsnet/pkg/payment"
	"studentsnet/pkg/reputation"
	"studentsnet/pkg/session"
	"studentsnet/pkg/tokens"

	"github.com/gin-gonic/gin"
)

func main() {
	// Auto-load ./.env if present before reading configuration
	loadDotEnv()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}
	secret := cfg.JWTSecret
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}

	auditCfg := audit.DefaultConfig()
	auditCfg.Path = cfg.AuditLogPath
	auditLog, err := audit.New(auditCfg)
	if err != nil {
		log.Fatal("failed to open audit log:", err)
	}
	defer auditLog.Sync()

	// Support a lightweight migrate command: `./studentsnet migrate`
	// It runs AutoMigrate and seeding then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		initDB(cfg.DBDSN)
		fmt.Println("migration and seeding completed")
		return
	}

	db := initDB(cfg.DBDSN)
	ensureEvidenceDir(cfg.EvidenceDir)

	app := &App{
		cfg:    cfg,
		db:     db,
		tokens: tokens.New([]byte(secret)),
		guard: guard.New(&loginStateStore{db: db},
			guard.WithLimits(cfg.MaxLoginAttempts, cfg.lockoutDuration())),
		reputation: reputation.New(
			reputation.WithLimits(cfg.MaxFailedPerIP, cfg.blacklistTTL()),
			reputation.WithMaxTracked(cfg.MaxTrackedAddrs)),
		sessions: session.NewStore(cfg.RequireIPMatch, cfg.RequireClientMatch,
			session.WithTTL(cfg.sessionTTL())),
		payments: payment.NewMachine(
			payment.NewGormStore(db),
			payment.NewHTTPGateway(cfg.GatewayBaseURL, cfg.GatewayAPIKey),
			[]byte(cfg.GatewayWebhookSecret)),
		audit: auditLog,
	}

	if cfg.EvidenceWatch {
		go app.watchEvidenceDir()
	}

	r := gin.Default()
	app.setupRoutes(r)
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatal(err)
	}
}

// watchEvidenceDir OCRs receipts dropped into the evidence directory
// out-of-band (bulk imports, support uploads) and backfills the OCR amount on
// evidence records that are still missing one. Transaction status never
// changes here; settlement stays with the reconciliation machine.
func (a *App) watchEvidenceDir() {
	err := evidence.Watch(context.Background(), a.cfg.EvidenceDir, func(path string) {
		amt, err := evidence.ReadAmount(path)
		if err != nil {
			log.Printf("evidence watch: %s: %v", path, err)
			return
		}
		res := a.db.Model(&models.EvidenceFile{}).
			Where("store_path = ? AND ocr_amount = 0", path).
			Update("ocr_amount", amt)
		if res.Error != nil {
			log.Printf("evidence watch: %s: %v", path, res.Error)
			return
		}
		log.Printf("evidence watch: %s: amount %d (%d records updated)", path, amt, res.RowsAffected)
	})
	if err != nil && err != context.Canceled {
		log.Printf("evidence watcher stopped: %v", err)
	}
}

// loadDotEnv loads key=value pairs from a local .env file into the environment
// without overwriting variables that are already set. Lines starting with # are ignored.
func loadDotEnv() {
	path := ".env"
	if _, err := os.Stat(path); err != nil {
		return // no .env file
	}
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// split on first '='
		if eq := strings.IndexByte(line, '='); eq > 0 {
			key := strings.TrimSpace(line[:eq])
			val := strings.TrimSpace(line[eq+1:])
			if _, exists := os.LookupEnv(key); !exists {
				_ = os.Setenv(key, val)
			}
		}
	}
}
