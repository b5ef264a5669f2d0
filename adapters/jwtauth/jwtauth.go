// Package jwtauth implements es.AuthAdapter over golang-jwt/v5: the
// embedding application hands the adapter a bearer token on login, the
// adapter resolves the authenticated account from its claims, and
// reports "logged out" once the token expires or is cleared.
package jwtauth

import (
	"context"
	"sync"
	"time"

	es "github.com/abdoElHodaky/eventcore/internal/eventsourcing"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the claim set the adapter expects a token to carry.
type Claims struct {
	jwt.RegisteredClaims
	AccountID string `json:"account_id"`
}

// Adapter is an es.AuthAdapter backed by a single bearer token, set
// and cleared by the embedding application around login/logout.
type Adapter struct {
	secret   []byte
	deviceID string

	mu     sync.RWMutex
	claims *Claims
}

// New constructs an Adapter that verifies tokens with secret and
// reports deviceID as the local device id.
func New(secret []byte, deviceID string) *Adapter {
	return &Adapter{secret: secret, deviceID: deviceID}
}

// Issue mints a signed token for accountID, valid for ttl.
func (a *Adapter) Issue(accountID string, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		AccountID: accountID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// SetToken verifies tokenString and, if valid, makes it the current
// session; GetAccount will resolve against its claims until it
// expires or ClearToken is called.
func (a *Adapter) SetToken(tokenString string) error {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return es.NewError("jwtauth.SetToken", es.KindUnauthorized, "invalid token", err)
	}

	a.mu.Lock()
	a.claims = claims
	a.mu.Unlock()
	return nil
}

// ClearToken logs the adapter out; subsequent dispatches proceed with
// a deferred authorship (CreatedBy empty) until a new token is set.
func (a *Adapter) ClearToken() {
	a.mu.Lock()
	a.claims = nil
	a.mu.Unlock()
}

func (a *Adapter) GetDeviceID(ctx context.Context) (string, error) {
	return a.deviceID, nil
}

func (a *Adapter) GetAccount(ctx context.Context) (es.Account, bool, error) {
	a.mu.RLock()
	claims := a.claims
	a.mu.RUnlock()

	if claims == nil {
		return es.Account{}, false, nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return es.Account{}, false, nil
	}
	return es.Account{ID: claims.AccountID}, true, nil
}
