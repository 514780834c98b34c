// Package scannertoken issues and verifies the short-lived tokens gate
// staff present on scan endpoints. They are HS256 JWTs distinguished
// from login tokens by a fixed purpose claim.
package scannertoken

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

const (
	Purpose = "ticket_scanning"
	MaxTTL  = 24 * time.Hour
)

var (
	ErrMissingToken   = errors.New("scannertoken: scanner token is required")
	ErrInvalidToken   = errors.New("scannertoken: invalid scanner token")
	ErrTokenExpired   = errors.New("scannertoken: scanner token has expired")
	ErrInvalidPurpose = errors.New("scannertoken: invalid token purpose")
)

type Claims struct {
	Purpose string `json:"purpose"`
	Name    string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Scanner is the operator identity carried by a verified token.
type Scanner struct {
	ID        string
	Name      string
	ExpiresAt time.Time
}

// Label is what gets recorded on a ticket as the scanner identity.
func (s Scanner) Label() string {
	if s.Name == "" {
		return s.ID
	}
	return s.ID + " (" + s.Name + ")"
}

type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer clamps ttl to (0, MaxTTL].
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// WithClock is for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) Issue(operatorID, name string) (string, time.Time, error) {
	if strings.TrimSpace(operatorID) == "" {
		return "", time.Time{}, errors.New("scannertoken: operator id is required")
	}
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Purpose: Purpose,
		Name:    name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "scannertoken: signing")
	}
	return signed, exp, nil
}

func (i *Issuer) Verify(token string) (Scanner, error) {
	if token == "" {
		return Scanner{}, ErrMissingToken
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Scanner{}, ErrTokenExpired
	}
	if err != nil {
		return Scanner{}, errors.Mark(errors.Wrap(err, "scannertoken"), ErrInvalidToken)
	}
	if claims.Purpose != Purpose {
		return Scanner{}, ErrInvalidPurpose
	}
	if claims.Subject == "" {
		return Scanner{}, ErrInvalidToken
	}
	// tokens minted with a longer lifetime than we allow are refused
	if claims.IssuedAt == nil || claims.ExpiresAt.Sub(claims.IssuedAt.Time) > MaxTTL {
		return Scanner{}, ErrInvalidToken
	}
	return Scanner{ID: claims.Subject, Name: claims.Name, ExpiresAt: claims.ExpiresAt.Time}, nil
}
