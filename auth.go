package main

import (
	"fmt"
	"strings"

	"studentsnet/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RegisterUser creates an account keyed by its unique contact identifier.
func RegisterUser(db *gorm.DB, contact, name, password string) (*models.User, error) {
	contact = strings.TrimSpace(contact)
	if contact == "" {
		return nil, fmt.Errorf("contact required")
	}
	if err := checkPasswordPolicy(password); err != nil {
		return nil, err
	}
	// pre-check existing (optimistic)
	var existing models.User
	if err := db.Where("contact = ?", contact).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("user already exists")
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	// ensure role exists (idempotent)
	var role models.Role
	if err := db.Where("name = ?", "user").First(&role).Error; err != nil {
		role = models.Role{Name: "user", Description: "regular user"}
		if err2 := db.Where("name = ?", role.Name).FirstOrCreate(&role).Error; err2 != nil {
			return nil, fmt.Errorf("failed to ensure user role: %v", err2)
		}
	}
	rid := role.ID
	user := models.User{
		Contact:        contact,
		Name:           strings.TrimSpace(name),
		HashedPassword: hashedPassword,
		RoleID:         &rid,
		PaymentStatus:  models.PaymentUnpaid,
	}
	if err := db.Create(&user).Error; err != nil {
		if isUniqueConstraintError(err) { // race condition after initial check
			return nil, fmt.Errorf("user already exists")
		}
		return nil, err
	}
	return &user, nil
}

// checkPasswordPolicy enforces the minimum bar: at least 8 characters with a
// letter and a digit.
func checkPasswordPolicy(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if len(password) > 128 {
		return fmt.Errorf("password too long")
	}
	hasLetter, hasDigit := false, false
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	if !hasLetter {
		return fmt.Errorf("password must contain at least one letter")
	}
	if !hasDigit {
		return fmt.Errorf("password must contain at least one number")
	}
	return nil
}

// findUserByContact looks an account up without verifying anything.
func findUserByContact(db *gorm.DB, contact string) (*models.User, error) {
	var user models.User
	if err := db.Where("contact = ?", strings.TrimSpace(contact)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// verifyPassword checks the bcrypt hash.
func verifyPassword(user *models.User, password string) bool {
	return bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)) == nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}
