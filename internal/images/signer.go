package images

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "regdesk/pkg/domain-errors"
)

const refIssuer = "regdesk/images"

// RefSigner turns storage keys into short-lived HS256 tokens and back.
type RefSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewRefSigner(key string, ttl time.Duration) *RefSigner {
	if key == "" {
		panic("images.NewRefSigner: signing key is required")
	}
	return &RefSigner{key: []byte(key), ttl: ttl, now: time.Now}
}

// Sign issues a reference for key.
func (s *RefSigner) Sign(storageKey string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   storageKey,
		Issuer:    refIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	return token.SignedString(s.key)
}

// Resolve validates a reference and returns its storage key.
func (s *RefSigner) Resolve(ref string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(ref, claims, func(*jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(refIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "image reference expired")
	}
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid image reference")
	}
	if claims.Subject == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid image reference")
	}
	return claims.Subject, nil
}
