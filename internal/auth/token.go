package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/innovfix/onlycare-calls/internal/errors"
)

const clockSkewLeeway = 30 * time.Second

var errNoSecret = errors.New("token secret is not configured")

// Claims identify the calling user. Tokens are minted by the account service;
// this service only verifies them.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
}

type TokenVerifier struct {
	secret []byte
	now    func() time.Time
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), now: time.Now}
}

// Verify checks signature and expiry and returns the user id the token was issued to.
func (v *TokenVerifier) Verify(tokenString string) (string, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkewLeeway),
		jwt.WithTimeFunc(v.now),
	)

	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if len(v.secret) == 0 {
			return nil, errNoSecret
		}
		return v.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", apperrors.TokenExpired()
	}
	if err != nil {
		return "", apperrors.InvalidToken("Invalid token").WithCause(err)
	}
	if claims.UserID == "" {
		return "", apperrors.InvalidToken("Token carries no user")
	}

	return claims.UserID, nil
}

// IssueToken mints a bearer token. Used by local tooling and tests.
func IssueToken(secret, userID string, ttl time.Duration, now time.Time) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	if secret == "" {
		return "", errNoSecret
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		UserID: userID,
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}
