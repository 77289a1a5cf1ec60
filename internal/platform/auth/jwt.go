// Package auth resolves the calling account from a signed bearer token.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"claimreg/pkg/domain"
	dErrors "claimreg/pkg/domain-errors"
)

const audience = "claimreg"

// Claims are the token claims; the account travels in the subject.
type Claims struct {
	jwt.RegisteredClaims
}

// JWTService issues and validates HS256 account tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

func NewJWTService(signingKey string, issuer string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
}

// GenerateToken signs a token for account valid for expiresIn.
func (s *JWTService) GenerateToken(account domain.AccountID, expiresIn time.Duration) (string, error) {
	if account.IsNil() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "account is required")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{audience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateToken verifies signature, issuer, audience and expiry, and returns
// the account named in the subject.
func (s *JWTService) ValidateToken(tokenString string) (domain.AccountID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return domain.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return domain.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	account, err := domain.ParseAccountID(claims.Subject)
	if err != nil {
		return domain.AccountID{}, dErrors.New(dErrors.CodeUnauthorized, "token subject is not an account")
	}
	return account, nil
}
