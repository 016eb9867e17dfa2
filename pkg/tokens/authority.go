// Package tokens issues, validates and revokes the bearer tokens used for
// authenticated requests.
package tokens

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired means the token's embedded expiry has passed.
	ErrExpired = errors.New("token expired")
	// ErrInvalid means the token is malformed or its signature does not verify.
	ErrInvalid = errors.New("token invalid")
	// ErrRevoked means the token was revoked before its natural expiry.
	ErrRevoked = errors.New("token revoked")
)

// Claims is the validated content of a token.
type Claims struct {
	AccountID uint
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// Authority signs HS256 tokens and tracks a revocation set keyed by token id.
// The set is an in-process cache, not a source of truth: a restart is
// equivalent to revoking nothing. Entries are pruned lazily once the revoked
// token's own expiry passes.
type Authority struct {
	secret []byte
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // token id -> original expiry
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

func New(secret []byte, opts ...Option) *Authority {
	a := &Authority{secret: secret, now: time.Now, revoked: make(map[string]time.Time)}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issue produces a signed token for the account with the given ttl. The caller
// picks the ttl (standard session vs. extended "remember me").
func (a *Authority) Issue(accountID uint, role string, ttl time.Duration) (string, error) {
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  strconv.FormatUint(uint64(accountID), 10),
		"role": role,
		"jti":  uuid.NewString(),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return token.SignedString(a.secret)
}

// Validate checks signature, expiry and the revocation set, returning the
// token's claims on success.
func (a *Authority) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, a.keyFunc, jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	claims, err := a.claimsOf(token)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.pruneLocked()
	_, revoked := a.revoked[claims.TokenID]
	a.mu.Unlock()
	if revoked {
		return nil, ErrRevoked
	}
	return claims, nil
}

// Revoke inserts the token into the revocation set. Tokens already past their
// expiry are dropped instead of stored. The signature must still verify;
// revoking a forged token is refused with ErrInvalid.
func (a *Authority) Revoke(tokenString string) error {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, err := parser.Parse(tokenString, a.keyFunc)
	if err != nil {
		return ErrInvalid
	}
	claims, err := a.claimsOf(token)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked()
	if claims.ExpiresAt.After(a.now()) {
		a.revoked[claims.TokenID] = claims.ExpiresAt
	}
	return nil
}

func (a *Authority) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrInvalidKeyType
	}
	return a.secret, nil
}

func (a *Authority) claimsOf(token *jwt.Token) (*Claims, error) {
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalid
	}
	sub, _ := mc["sub"].(string)
	id, err := strconv.ParseUint(sub, 10, 64)
	if err != nil {
		return nil, ErrInvalid
	}
	jti, _ := mc["jti"].(string)
	if jti == "" {
		return nil, ErrInvalid
	}
	exp, _ := mc["exp"].(float64)
	role, _ := mc["role"].(string)
	return &Claims{
		AccountID: uint(id),
		Role:      role,
		TokenID:   jti,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}

// pruneLocked drops revocation entries whose original expiry has passed.
func (a *Authority) pruneLocked() {
	now := a.now()
	for id, exp := range a.revoked {
		if !exp.After(now) {
			delete(a.revoked, id)
		}
	}
}
