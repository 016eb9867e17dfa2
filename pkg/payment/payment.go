// Package payment is the single writer of membership payment state. All three
// channels (gateway callback/poll, manual evidence, admin override) converge
// on the Machine here; nothing else mutates an account's payment fields.
package payment

import (
	"context"
	"errors"

	"studentsnet/models"
)

var (
	// ErrAlreadyPaid means the account has already completed payment.
	ErrAlreadyPaid = errors.New("membership already paid")
	// ErrDuplicatePending means the account already has a pending
	// transaction; at most one is allowed at a time, regardless of channel.
	ErrDuplicatePending = errors.New("a pending payment already exists")
	// ErrInvalidSignature means a gateway webhook failed HMAC verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrNotFound means no transaction matches the given identifier.
	ErrNotFound = errors.New("transaction not found")
	// ErrNotPending means a transition was requested on a transaction that
	// is neither pending nor already in the target state.
	ErrNotPending = errors.New("transaction is not pending")
)

// Store is the narrow durable-store contract the machine relies on. It must
// provide read-your-writes consistency per account, and TransitionStatus must
// be atomic (compare-and-set on the status column).
type Store interface {
	Account(id uint) (*models.User, error)
	SetAccountPayment(id uint, paid bool, status string) error
	CreateTransaction(tx *models.PaymentTransaction) error
	TransactionByID(id string) (*models.PaymentTransaction, error)
	TransactionByGatewaySession(sessionID string) (*models.PaymentTransaction, error)
	SetGatewaySession(txID, sessionID string) error
	PendingCount(accountID uint) (int64, error)
	// TransitionStatus atomically moves the transaction from one status to
	// another, returning false (without error) when the transaction was not
	// in the expected source status.
	TransitionStatus(txID, from, to string) (bool, error)
	// PromoteAllPending bulk-moves every pending transaction of the account
	// to the given status, returning how many rows changed.
	PromoteAllPending(accountID uint, to string) (int64, error)
	TransactionsByAccount(accountID uint) ([]models.PaymentTransaction, error)
}

// Gateway is the external payment gateway contract. Session creation and the
// synchronous status query are collaborator concerns; only webhook signature
// verification is owned here.
type Gateway interface {
	CreateSession(ctx context.Context, txID string, amount int64, currency string) (sessionID, redirectURL string, err error)
	QueryStatus(ctx context.Context, sessionID string) (string, error)
}
