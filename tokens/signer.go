package tokens

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/anuragrao04/qr-attendance-core/models"
	"github.com/golang-jwt/jwt/v5"
)

const claimsVersion = 1

// Signer produces and verifies the long signed form of a token (compact
// HS256 JWS). Only this package reads its contents.
type Signer struct {
	secret []byte
	parser *jwt.Parser
}

type tokenClaims struct {
	SessionID string `json:"sid"`
	Version   int    `json:"ver"`
	jwt.RegisteredClaims
}

type signedClaims struct {
	JTI       string
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	return newSigner([]byte(secret)), nil
}

// NewEphemeralSigner uses a random per-process secret. Tokens do not
// survive a restart, which is harmless at a 30 second lifetime.
func NewEphemeralSigner() (*Signer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing secret: %w", err)
	}
	return newSigner(secret), nil
}

func newSigner(secret []byte) *Signer {
	return &Signer{
		secret: secret,
		// Expiry is judged by the issuer against its own clock, so the
		// parser only checks the signature and algorithm.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

func (s *Signer) Sign(t models.Token) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		SessionID: t.SessionID,
		Version:   claimsVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        t.JTI,
			IssuedAt:  jwt.NewNumericDate(t.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(t.ExpiresAt),
		},
	})
	return tok.SignedString(s.secret)
}

func (s *Signer) verify(raw string) (signedClaims, error) {
	var c tokenClaims
	_, err := s.parser.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return signedClaims{}, err
	}
	if c.Version != claimsVersion || c.ID == "" || c.SessionID == "" || c.ExpiresAt == nil {
		return signedClaims{}, errors.New("incomplete token claims")
	}
	out := signedClaims{
		JTI:       c.ID,
		SessionID: c.SessionID,
		ExpiresAt: c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	return out, nil
}
