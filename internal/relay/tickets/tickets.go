// Package tickets issues short-lived tokens that bind a websocket connection
// to the room its owner was admitted to over HTTP.
package tickets

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "oniontalk-relay"

// ErrInvalidTicket is returned for tickets that are malformed, forged or
// expired.
var ErrInvalidTicket = errors.New("invalid ticket")

// Claims is the ticket payload.
type Claims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tickets with an HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer whose tickets live for ttl.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("ticket secret is empty")
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a ticket admitting its bearer to room.
func (i *Issuer) Issue(room string) (string, error) {
	now := i.now()
	claims := Claims{
		Room: room,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify checks token and returns the room it admits to.
func (i *Issuer) Verify(token string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	if claims.Room == "" {
		return "", fmt.Errorf("%w: no room", ErrInvalidTicket)
	}
	return claims.Room, nil
}
