package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"studentsnet/models"
)

// Machine reconciles payment events into one authoritative per-account state.
// Entry checks for one account are serialized on a per-account mutex; the
// pending->paid transition itself is guarded by the store's compare-and-set,
// so a callback/poll race settles to exactly one effective transition.
type Machine struct {
	store         Store
	gateway       Gateway
	webhookSecret []byte
	now           func() time.Time

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func NewMachine(store Store, gateway Gateway, webhookSecret []byte, opts ...Option) *Machine {
	m := &Machine{
		store:         store,
		gateway:       gateway,
		webhookSecret: webhookSecret,
		now:           time.Now,
		locks:         make(map[uint]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) accountLock(id uint) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Submit creates a new pending transaction for the account. Any channel goes
// through here: an already-paid account fails with ErrAlreadyPaid, a second
// concurrent attempt with ErrDuplicatePending.
func (m *Machine) Submit(accountID uint, channel string, amount int64, currency string) (*models.PaymentTransaction, error) {
	l := m.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	u, err := m.store.Account(accountID)
	if err != nil {
		return nil, err
	}
	if u.PaymentPaid || u.PaymentStatus == models.PaymentPaid {
		return nil, ErrAlreadyPaid
	}
	pending, err := m.store.PendingCount(accountID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, ErrDuplicatePending
	}

	now := m.now()
	tx := &models.PaymentTransaction{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		UserID:    accountID,
		Channel:   channel,
		Amount:    amount,
		Currency:  currency,
		Status:    models.StatusPending,
	}
	if err := m.store.CreateTransaction(tx); err != nil {
		return nil, err
	}
	if err := m.store.SetAccountPayment(accountID, false, models.PaymentPending); err != nil {
		return nil, err
	}
	return tx, nil
}

// OpenGatewaySession creates a pending gateway-channel transaction and opens a
// session with the external gateway, returning the redirect URL for the
// client.
func (m *Machine) OpenGatewaySession(ctx context.Context, accountID uint, amount int64, currency string) (*models.PaymentTransaction, string, error) {
	tx, err := m.Submit(accountID, models.ChannelGateway, amount, currency)
	if err != nil {
		return nil, "", err
	}
	sessionID, redirectURL, err := m.gateway.CreateSession(ctx, tx.ID, amount, currency)
	if err != nil {
		return nil, "", fmt.Errorf("gateway session: %w", err)
	}
	if err := m.store.SetGatewaySession(tx.ID, sessionID); err != nil {
		return nil, "", err
	}
	tx.GatewaySessionID = sessionID
	return tx, redirectURL, nil
}

// MarkPaid applies the idempotent pending->paid transition. If the transaction
// is already paid this is a silent no-op; the store-level compare-and-set
// guarantees the account flip happens exactly once even under a callback/poll
// race.
func (m *Machine) MarkPaid(txID string) error {
	tx, err := m.store.TransactionByID(txID)
	if err != nil {
		return err
	}
	return m.markPaid(tx)
}

// markPaid holds the account lock across the CAS and the account flip, so a
// concurrent Submit for the same account observes either the pending
// transaction or the paid account, never the gap in between.
func (m *Machine) markPaid(tx *models.PaymentTransaction) error {
	l := m.accountLock(tx.UserID)
	l.Lock()
	defer l.Unlock()

	ok, err := m.store.TransitionStatus(tx.ID, models.StatusPending, models.StatusPaid)
	if err != nil {
		return err
	}
	if !ok {
		cur, err := m.store.TransactionByID(tx.ID)
		if err != nil {
			return err
		}
		if cur.Status == models.StatusPaid {
			return nil // double delivery, already credited
		}
		return ErrNotPending
	}
	return m.store.SetAccountPayment(tx.UserID, true, models.PaymentPaid)
}

// Reject moves a pending manual submission to rejected and drops the account
// back to unpaid.
func (m *Machine) Reject(txID string) error {
	tx, err := m.store.TransactionByID(txID)
	if err != nil {
		return err
	}
	l := m.accountLock(tx.UserID)
	l.Lock()
	defer l.Unlock()

	ok, err := m.store.TransitionStatus(tx.ID, models.StatusPending, models.StatusRejected)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotPending
	}
	return m.store.SetAccountPayment(tx.UserID, false, models.PaymentUnpaid)
}

// gatewayEvent is the payload the gateway posts to the webhook and the shape
// its status query returns.
type gatewayEvent struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// HandleCallback verifies the webhook signature before trusting anything in
// the body, then applies the idempotent paid transition for the referenced
// gateway session. Events that do not report payment are acknowledged and
// ignored.
func (m *Machine) HandleCallback(body []byte, signature string) (*models.PaymentTransaction, error) {
	if !VerifySignature(body, signature, m.webhookSecret) {
		return nil, ErrInvalidSignature
	}
	var ev gatewayEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("webhook payload: %w", err)
	}
	tx, err := m.store.TransactionByGatewaySession(ev.SessionID)
	if err != nil {
		return nil, err
	}
	if ev.Status != models.StatusPaid && ev.Status != "complete" {
		return tx, nil
	}
	if err := m.markPaid(tx); err != nil {
		return nil, err
	}
	return m.store.TransactionByID(tx.ID)
}

// PollStatus queries the gateway directly for the transaction's session and
// applies the same idempotent transition the callback path uses.
func (m *Machine) PollStatus(ctx context.Context, txID string) (*models.PaymentTransaction, error) {
	tx, err := m.store.TransactionByID(txID)
	if err != nil {
		return nil, err
	}
	if tx.Status == models.StatusPaid {
		return tx, nil
	}
	status, err := m.gateway.QueryStatus(ctx, tx.GatewaySessionID)
	if err != nil {
		return nil, fmt.Errorf("gateway status: %w", err)
	}
	if status == models.StatusPaid || status == "complete" {
		if err := m.markPaid(tx); err != nil {
			return nil, err
		}
	}
	return m.store.TransactionByID(tx.ID)
}

// AdminOverride sets the account's payment fields directly. Setting paid
// promotes every pending transaction of the account in bulk; the override
// always wins and is not subject to the single-pending rule.
func (m *Machine) AdminOverride(accountID uint, paid bool, status string) error {
	l := m.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	if _, err := m.store.Account(accountID); err != nil {
		return err
	}
	if paid || status == models.PaymentPaid {
		if _, err := m.store.PromoteAllPending(accountID, models.StatusPaid); err != nil {
			return err
		}
		return m.store.SetAccountPayment(accountID, true, models.PaymentPaid)
	}
	if status == "" {
		status = models.PaymentUnpaid
	}
	return m.store.SetAccountPayment(accountID, paid, status)
}

// Transaction fetches one transaction without side effects. Callers use it to
// check ownership before triggering gateway traffic.
func (m *Machine) Transaction(txID string) (*models.PaymentTransaction, error) {
	return m.store.TransactionByID(txID)
}

// Transactions lists the account's payment history, newest first.
func (m *Machine) Transactions(accountID uint) ([]models.PaymentTransaction, error) {
	return m.store.TransactionsByAccount(accountID)
}
