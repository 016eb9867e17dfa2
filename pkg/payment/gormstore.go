package payment

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"studentsnet/models"
)

// GormStore backs the machine with the shared Postgres store. The
// compare-and-set transition is a conditional UPDATE, so concurrent writers
// settle on exactly one winner at the database.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Account(id uint) (*models.User, error) {
	var u models.User
	if err := s.db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *GormStore) SetAccountPayment(id uint, paid bool, status string) error {
	return s.db.Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{"payment_paid": paid, "payment_status": status}).Error
}

func (s *GormStore) CreateTransaction(tx *models.PaymentTransaction) error {
	return s.db.Create(tx).Error
}

func (s *GormStore) TransactionByID(id string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	if err := s.db.Where("id = ?", id).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *GormStore) TransactionByGatewaySession(sessionID string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	if err := s.db.Where("gateway_session_id = ?", sessionID).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *GormStore) SetGatewaySession(txID, sessionID string) error {
	return s.db.Model(&models.PaymentTransaction{}).Where("id = ?", txID).
		Update("gateway_session_id", sessionID).Error
}

func (s *GormStore) PendingCount(accountID uint) (int64, error) {
	var n int64
	err := s.db.Model(&models.PaymentTransaction{}).
		Where("user_id = ? AND status = ?", accountID, models.StatusPending).
		Count(&n).Error
	return n, err
}

func (s *GormStore) TransitionStatus(txID, from, to string) (bool, error) {
	res := s.db.Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", txID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) PromoteAllPending(accountID uint, to string) (int64, error) {
	res := s.db.Model(&models.PaymentTransaction{}).
		Where("user_id = ? AND status = ?", accountID, models.StatusPending).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

func (s *GormStore) TransactionsByAccount(accountID uint) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := s.db.Where("user_id = ?", accountID).Order("created_at desc").Find(&txs).Error
	return txs, err
}
