package scannertoken

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("scanner-secret-for-tests")

func TestIssueVerify(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	iss := NewIssuer(secret, 8*time.Hour).WithClock(func() time.Time { return now })

	tok, exp, err := iss.Issue("op-17", "North Gate")
	require.NoError(t, err)
	assert.Equal(t, now.Add(8*time.Hour), exp)

	sc, err := iss.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "op-17", sc.ID)
	assert.Equal(t, "op-17 (North Gate)", sc.Label())
}

func TestTTLClampedToDay(t *testing.T) {
	iss := NewIssuer(secret, 72*time.Hour)
	assert.Equal(t, MaxTTL, iss.ttl)
}

func TestVerifyExpired(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	iss := NewIssuer(secret, time.Hour).WithClock(func() time.Time { return clock })
	tok, _, err := iss.Issue("op-1", "")
	require.NoError(t, err)

	clock = now.Add(2 * time.Hour)
	_, err = iss.Verify(tok)
	assert.True(t, errors.Is(err, ErrTokenExpired), "got %v", err)
}

func TestVerifyRejectsLoginToken(t *testing.T) {
	login := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "42",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := login.SignedString(secret)
	require.NoError(t, err)

	_, err = NewIssuer(secret, time.Hour).Verify(signed)
	assert.True(t, errors.Is(err, ErrInvalidPurpose), "got %v", err)
}

func TestVerifyRejectsOverlongLifetime(t *testing.T) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Purpose: Purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "op-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(30 * 24 * time.Hour)),
		},
	})
	signed, err := tok.SignedString(secret)
	require.NoError(t, err)

	_, err = NewIssuer(secret, time.Hour).Verify(signed)
	assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)
}

func TestVerifyWrongSecretAndMissing(t *testing.T) {
	tok, _, err := NewIssuer([]byte("other-secret"), time.Hour).Issue("op-1", "")
	require.NoError(t, err)

	_, err = NewIssuer(secret, time.Hour).Verify(tok)
	assert.True(t, errors.Is(err, ErrInvalidToken), "got %v", err)

	_, err = NewIssuer(secret, time.Hour).Verify("")
	assert.True(t, errors.Is(err, ErrMissingToken))
}
