package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// BudgetClaims limit what a session opened with the token may spend. Zero
// limits mean unlimited.
type BudgetClaims struct {
	MaxTurns   int     `json:"maxTurns,omitempty"`
	MaxCostUSD float64 `json:"maxCostUsd,omitempty"`
	// SessionID pins the token to one session for resume.
	SessionID string `json:"sessionId,omitempty"`
	jwt.RegisteredClaims
}

// budgetPrincipal implements the Principal interface for budget claims.
type budgetPrincipal struct {
	claims *BudgetClaims
}

func (p *budgetPrincipal) GetClaims() interface{} {
	return p.claims
}

func (p *budgetPrincipal) GetSubject() string {
	return p.claims.Subject
}

// NewBudgetToken signs claims with secret using HS256. IssuedAt and ID are
// filled in, and ExpiresAt is set from ttl when ttl is positive.
func NewBudgetToken(secret []byte, claims BudgetClaims, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("budget token: empty signing secret")
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("budget token: signing: %w", err)
	}
	return signed, nil
}

// VerifyBudgetToken checks the signature and expiry of a token created by
// NewBudgetToken and returns its claims.
func VerifyBudgetToken(secret []byte, token string) (*BudgetClaims, error) {
	claims := &BudgetClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w: %w", ErrInvalidToken, ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.MaxTurns < 0 || claims.MaxCostUSD < 0 {
		return nil, fmt.Errorf("%w: negative budget", ErrInvalidToken)
	}
	return claims, nil
}

// SecretVerifier verifies budget tokens with a shared secret.
type SecretVerifier struct {
	Secret []byte
}

// VerifyToken implements TokenVerifier.
func (v SecretVerifier) VerifyToken(ctx context.Context, token string) (Principal, error) {
	claims, err := VerifyBudgetToken(v.Secret, token)
	if err != nil {
		return nil, err
	}
	return &budgetPrincipal{claims: claims}, nil
}

var _ TokenVerifier = SecretVerifier{}
