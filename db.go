package main

import (
	"log"
	"os"

	"studentsnet/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func initDB(dsn string) *gorm.DB {
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		log.Fatal("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN.")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres database:", err)
	}
	// Control schema migrations with env DB_AUTO_MIGRATE (default true).
	shouldMigrate := true
	if v := os.Getenv("DB_AUTO_MIGRATE"); v == "false" || v == "0" || v == "no" {
		shouldMigrate = false
	}
	// Roles first so the users FK can be applied safely.
	if shouldMigrate {
		if err := db.AutoMigrate(&models.Role{}); err != nil {
			log.Printf("migration warning (roles): %v", err)
		}
	}
	seedRoles(db)

	if shouldMigrate {
		// Migrate models individually so a failure on one doesn't block others
		if err := db.AutoMigrate(&models.User{}); err != nil {
			log.Printf("migration warning (users): %v", err)
		}
		if err := db.AutoMigrate(&models.PaymentTransaction{}); err != nil {
			log.Printf("migration warning (payment_transactions): %v", err)
		}
		if err := db.AutoMigrate(&models.EvidenceFile{}); err != nil {
			log.Printf("migration warning (evidence_files): %v", err)
		}
		if err := db.AutoMigrate(&models.RefreshToken{}); err != nil {
			log.Printf("migration warning (refresh_tokens): %v", err)
		}
	}
	seedAdmin(db)
	return db
}

func seedRoles(db *gorm.DB) {
	roles := []models.Role{
		{Name: "administrator", Description: "full access"},
		{Name: "user", Description: "regular user"},
	}
	for _, r := range roles {
		var cnt int64
		db.Model(&models.Role{}).Where("name = ?", r.Name).Count(&cnt)
		if cnt == 0 {
			db.Create(&r)
		}
	}
}

func seedAdmin(db *gorm.DB) {
	var count int64
	db.Model(&models.User{}).Where("contact = ?", "admin").Count(&count)
	if count > 0 {
		return
	}
	var role models.Role
	if err := db.Where("name = ?", "administrator").First(&role).Error; err != nil {
		log.Printf("failed to find administrator role: %v", err)
		return
	}
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		password = "admin123" // development fallback
	}
	hashedPassword, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	rid := role.ID
	admin := models.User{
		Contact:        "admin",
		Name:           "Administrator",
		HashedPassword: hashedPassword,
		RoleID:         &rid,
		PaymentStatus:  models.PaymentPaid,
		PaymentPaid:    true,
	}
	if err := db.Create(&admin).Error; err != nil {
		log.Printf("failed to seed admin user: %v", err)
		return
	}
	log.Println("Seeded admin user: contact=admin")
}

// loginStateStore persists the credential-guard fields of an account. Writes
// only the guard-owned columns so concurrent profile updates are untouched.
type loginStateStore struct {
	db *gorm.DB
}

func (s *loginStateStore) SaveLoginState(u *models.User) error {
	return s.db.Model(&models.User{}).Where("id = ?", u.ID).Updates(map[string]interface{}{
		"failed_attempt_count": u.FailedAttemptCount,
		"locked_until":         u.LockedUntil,
		"last_login_at":        u.LastLoginAt,
	}).Error
}

// ensureEvidenceDir creates the base directory for evidence uploads.
func ensureEvidenceDir(dir string) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("failed to create evidence dir %s: %v", dir, err)
	}
}
