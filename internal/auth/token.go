package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/raulk/clock"
)

// Claims is the principal carried by every bearer token.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	// Purpose is empty on session tokens.
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

const purposeReset = "password_reset"

type Tokens struct {
	secret []byte
	ttl    time.Duration
	clk    clock.Clock
}

func NewTokens(secret string, ttl time.Duration, clk clock.Clock) *Tokens {
	if clk == nil {
		clk = clock.New()
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, clk: clk}
}

func (t *Tokens) Issue(userID, role string) (string, error) {
	return t.sign(Claims{UserID: userID, Role: role}, t.ttl)
}

// IssueReset returns a short-lived token that only ParseReset accepts.
func (t *Tokens) IssueReset(userID string, ttl time.Duration) (string, error) {
	return t.sign(Claims{UserID: userID, Purpose: purposeReset}, ttl)
}

func (t *Tokens) sign(claims Claims, ttl time.Duration) (string, error) {
	now := t.clk.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse accepts session tokens only.
func (t *Tokens) Parse(raw string) (*Claims, error) {
	return t.parse(raw, "")
}

func (t *Tokens) ParseReset(raw string) (*Claims, error) {
	return t.parse(raw, purposeReset)
}

func (t *Tokens) parse(raw, purpose string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.clk.Now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("invalid token claims")
	}
	if claims.Purpose != purpose {
		return nil, errors.New("token issued for another purpose")
	}
	return claims, nil
}
