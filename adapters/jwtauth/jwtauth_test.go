package jwtauth_test

import (
	"context"
	"testing"
	"time"

	"github.com/abdoElHodaky/eventcore/adapters/jwtauth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_GetAccountUnknownBeforeAnyToken(t *testing.T) {
	a := jwtauth.New([]byte("secret"), "device-1")
	_, ok, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdapter_IssueThenSetTokenResolvesAccount(t *testing.T) {
	a := jwtauth.New([]byte("secret"), "device-1")

	token, err := a.Issue("A1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, a.SetToken(token))

	account, ok, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A1", account.ID)
}

func TestAdapter_ClearTokenLogsOut(t *testing.T) {
	a := jwtauth.New([]byte("secret"), "device-1")
	token, err := a.Issue("A1", time.Hour)
	require.NoError(t, err)
	require.NoError(t, a.SetToken(token))

	a.ClearToken()

	_, ok, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdapter_SetTokenRejectsExpiredToken(t *testing.T) {
	a := jwtauth.New([]byte("secret"), "device-1")
	token, err := a.Issue("A1", -time.Minute)
	require.NoError(t, err)

	err = a.SetToken(token)
	require.Error(t, err, "an already-expired token should fail verification on SetToken")
}

func TestAdapter_SetTokenRejectsWrongSecret(t *testing.T) {
	issuer := jwtauth.New([]byte("secret-a"), "device-1")
	token, err := issuer.Issue("A1", time.Hour)
	require.NoError(t, err)

	verifier := jwtauth.New([]byte("secret-b"), "device-1")
	err = verifier.SetToken(token)
	assert.Error(t, err)
}

func TestAdapter_GetDeviceIDReturnsConfiguredID(t *testing.T) {
	a := jwtauth.New([]byte("secret"), "device-42")
	id, err := a.GetDeviceID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "device-42", id)
}
