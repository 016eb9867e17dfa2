package payment

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentsnet/models"
)

// memStore is an in-memory Store with the same atomicity guarantees the SQL
// implementation gets from conditional UPDATEs.
type memStore struct {
	mu       sync.Mutex
	accounts map[uint]*models.User
	txs      map[string]*models.PaymentTransaction
	flips    map[uint]int // times SetAccountPayment(paid=true) ran per account
}

func newMemStore(users ...*models.User) *memStore {
	s := &memStore{
		accounts: make(map[uint]*models.User),
		txs:      make(map[string]*models.PaymentTransaction),
		flips:    make(map[uint]int),
	}
	for _, u := range users {
		if u.PaymentStatus == "" {
			u.PaymentStatus = models.PaymentUnpaid
		}
		s.accounts[u.ID] = u
	}
	return s
}

func (s *memStore) Account(id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) SetAccountPayment(id uint, paid bool, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.accounts[id]
	u.PaymentPaid = paid
	u.PaymentStatus = status
	if paid {
		s.flips[id]++
	}
	return nil
}

func (s *memStore) CreateTransaction(tx *models.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tx
	s.txs[tx.ID] = &cp
	return nil
}

func (s *memStore) TransactionByID(id string) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *memStore) TransactionByGatewaySession(sid string) (*models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.txs {
		if tx.GatewaySessionID == sid {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) SetGatewaySession(txID, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[txID].GatewaySessionID = sid
	return nil
}

func (s *memStore) PendingCount(accountID uint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, tx := range s.txs {
		if tx.UserID == accountID && tx.Status == models.StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *memStore) TransitionStatus(txID, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[txID]
	if !ok || tx.Status != from {
		return false, nil
	}
	tx.Status = to
	return true, nil
}

func (s *memStore) PromoteAllPending(accountID uint, to string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, tx := range s.txs {
		if tx.UserID == accountID && tx.Status == models.StatusPending {
			tx.Status = to
			n++
		}
	}
	return n, nil
}

func (s *memStore) TransactionsByAccount(accountID uint) ([]models.PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentTransaction
	for _, tx := range s.txs {
		if tx.UserID == accountID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

// fakeGateway answers session creation and status queries from canned data.
type fakeGateway struct {
	mu       sync.Mutex
	n        int
	statuses map[string]string
}

func (g *fakeGateway) CreateSession(_ context.Context, txID string, _ int64, _ string) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	sid := "sess-" + txID
	return sid, "https://gateway.example/pay/" + sid, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, sid string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if st, ok := g.statuses[sid]; ok {
		return st, nil
	}
	return models.StatusPending, nil
}

var webhookSecret = []byte("hook-secret")

func newTestMachine(users ...*models.User) (*Machine, *memStore, *fakeGateway) {
	store := newMemStore(users...)
	gw := &fakeGateway{statuses: make(map[string]string)}
	return NewMachine(store, gw, webhookSecret), store, gw
}

func TestSubmitAlreadyPaid(t *testing.T) {
	m, _, _ := newTestMachine(&models.User{ID: 1, PaymentPaid: true, PaymentStatus: models.PaymentPaid})
	_, err := m.Submit(1, models.ChannelEvidence, 99, "INR")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestSubmitDuplicatePending(t *testing.T) {
	m, _, _ := newTestMachine(&models.User{ID: 1})
	_, err := m.Submit(1, models.ChannelEvidence, 99, "INR")
	require.NoError(t, err)

	// second submission while one is pending, from any channel
	_, err = m.Submit(1, models.ChannelEvidence, 99, "INR")
	assert.ErrorIs(t, err, ErrDuplicatePending)
	_, err = m.Submit(1, models.ChannelGateway, 99, "INR")
	assert.ErrorIs(t, err, ErrDuplicatePending)
}

func TestSubmitSetsAccountPending(t *testing.T) {
	m, store, _ := newTestMachine(&models.User{ID: 1})
	tx, err := m.Submit(1, models.ChannelEvidence, 99, "INR")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, tx.Status)

	u, _ := store.Account(1)
	assert.False(t, u.PaymentPaid)
	assert.Equal(t, models.PaymentPending, u.PaymentStatus)
}

func TestMarkPaidIdempotent(t *testing.T) {
	m, store, _ := newTestMachine(&models.User{ID: 1})
	tx, err := m.Submit(1, models.ChannelGateway, 99, "INR")
	require.NoError(t, err)

	// callback and poll race: both apply the same transition
	require.NoError(t, m.MarkPaid(tx.ID))
	require.NoError(t, m.MarkPaid(tx.ID))

	got, _ := store.TransactionByID(tx.ID)
	assert.Equal(t, models.StatusPaid, got.Status)
	u, _ := store.Account(1)
	assert.True(t, u.PaymentPaid)
	assert.Equal(t, models.PaymentPaid, u.PaymentStatus)
	// the account flip ran exactly once
	assert.Equal(t, 1, store.flips[1])
}

func TestMarkPaidConcurrent(t *testing.T) {
	m, store, _ := newTestMachine(&models.User{ID: 1})
	tx, err := m.Submit(1, models.ChannelGateway, 99, "INR")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.MarkPaid(tx.ID)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.flips[1])
}

// pausingStore stalls the first paid account flip until released, holding the
// machine mid-transition.
type pausingStore struct {
	*memStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *pausingStore) SetAccountPayment(id uint, paid bool, status string) error {
	if paid {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.memStore.SetAccountPayment(id, paid, status)
}

func TestSubmitSerializedWithPaidTransition(t *testing.T) {
	store := newMemStore(&models.User{ID: 1})
	ps := &pausingStore{memStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	m := NewMachine(ps, &fakeGateway{statuses: make(map[string]string)}, webhookSecret)

	tx, err := m.Submit(1, models.ChannelGateway, 99, "INR")
	require.NoError(t, err)

	markErr := make(chan error, 1)
	go func() { markErr <- m.MarkPaid(tx.ID) }()
	// the transaction CAS has run but the account has not flipped yet
	<-ps.entered

	subErr := make(chan error, 1)
	go func() {
		_, err := m.Submit(1, models.ChannelEvidence, 99, "INR")
		subErr <- err
	}()
	// a submit for the same account must wait out the transition rather than
	// slip a fresh pending transaction into the gap
	select {
	case err := <-subErr:
		t.Fatalf("submit completed mid-transition: err=%v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(ps.release)
	require.NoError(t, <-markErr)
	assert.ErrorIs(t, <-subErr, ErrAlreadyPaid)

	pending, _ := store.PendingCount(1)
	assert.Zero(t, pending)
	assert.Equal(t, 1, store.flips[1])
}

func TestGatewayCallbackFlow(t *testing.T) {
	m, store, _ := newTestMachine(&models.User{ID: 1})
	tx, redirect, err := m.OpenGatewaySession(context.Background(), 1, 99, "INR")
	require.NoError(t, err)
	assert.NotEmpty(t, redirect)
	assert.NotEmpty(t, tx.GatewaySessionID)

	body, _ := json.Marshal(map[string]string{"session_id": tx.GatewaySessionID, "status": "paid"})

	// wrong signature is rejected before the payload is trusted
	_, err = m.HandleCallback(body, "deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	got, err := m.HandleCallback(body, Sign(body, webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)

	// duplicate delivery is silently idempotent
	_, err = m.HandleCallback(body, Sign(body, webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, 1, store.flips[1])
}

func TestCallbackIgnoresNonPaidStatus(t *testing.T) {
	m, store, _ := newTestMachine(&models.User{ID: 1})
	tx, _, err := m.OpenGatewaySession(context.Background(), 1, 99, "INR")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{"session_id": tx.GatewaySessionID, "status": "pending"})
	got, err := m.HandleCallback(body, Sign(body, webhookSecret))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, store.flips[1])
}

func TestPollStatus(t *testing.T) {
	m, store, gw := newTestMachine(&models.User{ID: 1})
	tx, _, err := m.OpenGatewaySession(context.Background(), 1, 99, "INR")
	require.NoError(t, err)

	// gateway not settled yet
	got, err := m.PollStatus(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	gw.statuses[tx.GatewaySessionID] = models.StatusPaid
	got, err = m.PollStatus(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)

	// poll after callback already credited: no second flip, no error
	_, err = m.PollStatus(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.flips[1])
}

func TestRejectReturnsAccountToUnpaid(t *testing.T) {
	m, store, _ := newTestMachine(&models.User{ID: 1})
	tx, err := m.Submit(1, models.ChannelEvidence, 99, "INR")
	require.NoError(t, err)

	require.NoError(t, m.Reject(tx.ID))
	got, _ := store.TransactionByID(tx.ID)
	assert.Equal(t, models.StatusRejected, got.Status)
	u, _ := store.Account(1)
	assert.False(t, u.PaymentPaid)
	assert.Equal(t, models.PaymentUnpaid, u.PaymentStatus)

	// a rejected transaction cannot be paid afterwards
	assert.ErrorIs(t, m.MarkPaid(tx.ID), ErrNotPending)

	// and the account may submit again
	_, err = m.Submit(1, models.ChannelEvidence, 99, "INR")
	assert.NoError(t, err)
}

func TestAdminOverridePromotesPending(t *testing.T) {
	m, store, _ := newTestMachine(&models.User{ID: 2})
	tx, err := m.Submit(2, models.ChannelEvidence, 99, "INR")
	require.NoError(t, err)

	require.NoError(t, m.AdminOverride(2, true, models.PaymentPaid))

	got, _ := store.TransactionByID(tx.ID)
	assert.Equal(t, models.StatusPaid, got.Status)
	u, _ := store.Account(2)
	assert.True(t, u.PaymentPaid)

	// a later manual submission fails with AlreadyPaid
	_, err = m.Submit(2, models.ChannelEvidence, 99, "INR")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestAdminOverrideClear(t *testing.T) {
	m, store, _ := newTestMachine(&models.User{ID: 3, PaymentPaid: true, PaymentStatus: models.PaymentPaid})
	require.NoError(t, m.AdminOverride(3, false, ""))
	u, _ := store.Account(3)
	assert.False(t, u.PaymentPaid)
	assert.Equal(t, models.PaymentUnpaid, u.PaymentStatus)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"session_id":"s1","status":"paid"}`)
	sig := Sign(body, webhookSecret)
	assert.True(t, VerifySignature(body, sig, webhookSecret))
	assert.False(t, VerifySignature(body, sig, []byte("other")))
	assert.False(t, VerifySignature([]byte(`tampered`), sig, webhookSecret))
}
