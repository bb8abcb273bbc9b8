package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"quiz-room-service/internal/domain"
)

// IdentityProvider verifies a bearer credential and yields the participant
// identity behind it.
type IdentityProvider interface {
	Verify(credential string) (participantID string, err error)
}

// Gate authenticates inbound real-time connections. Every connection must
// pass through it before any room operation is permitted.
type Gate struct {
	provider IdentityProvider
}

func NewGate(provider IdentityProvider) *Gate {
	return &Gate{provider: provider}
}

// Authenticate resolves a credential to a participant id, failing on any
// missing, malformed or expired credential.
func (g *Gate) Authenticate(credential string) (string, error) {
	if credential == "" {
		return "", domain.ErrInvalidToken
	}
	participantID, err := g.provider.Verify(credential)
	if err != nil {
		return "", domain.ErrInvalidToken
	}
	return participantID, nil
}

// JWTManager is the HMAC-signed token implementation of IdentityProvider.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTManager(secret string, ttl time.Duration) *JWTManager {
	return &JWTManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue mints a token for a participant. An empty id gets a generated guest
// identity.
func (m *JWTManager) Issue(participantID string) (string, string, error) {
	if participantID == "" {
		participantID = "guest-" + uuid.NewString()
	}
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   participantID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", "", err
	}
	return signed, participantID, nil
}

// Verify validates the signature and expiry and returns the subject.
func (m *JWTManager) Verify(credential string) (string, error) {
	token, err := jwt.ParseWithClaims(credential, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !token.Valid {
		return "", domain.ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", domain.ErrInvalidToken
	}
	return claims.Subject, nil
}
