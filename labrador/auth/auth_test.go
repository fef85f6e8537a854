// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package auth

import (
	"testing"
	"time"

	"github.com/shoenig/test/must"

	"github.com/hashicorp/labrador/ci"
	"github.com/hashicorp/labrador/labrador/structs"
)

func testUser() *structs.User {
	return &structs.User{ID: 42, Username: "alice"}
}

func TestAuthenticator_MintVerify(t *testing.T) {
	ci.Parallel(t)

	a, err := NewAuthenticator("test-secret-key", 0)
	must.NoError(t, err)

	token, err := a.Mint(testUser())
	must.NoError(t, err)
	must.NotEq(t, "", token)

	id, err := a.Verify(token)
	must.NoError(t, err)
	must.Eq(t, int64(42), id.UserID)
	must.Eq(t, "alice", id.Username)
}

func TestAuthenticator_Verify_Failures(t *testing.T) {
	ci.Parallel(t)

	a, err := NewAuthenticator("test-secret-key", time.Hour)
	must.NoError(t, err)

	_, err = a.Verify("")
	must.ErrorIs(t, err, structs.ErrTokenMissing)

	_, err = a.Verify("not-a-jwt")
	must.ErrorIs(t, err, structs.ErrTokenMalformed)

	// Tokens signed with another secret fail verification.
	other, err := NewAuthenticator("different-secret", time.Hour)
	must.NoError(t, err)
	forged, err := other.Mint(testUser())
	must.NoError(t, err)
	_, err = a.Verify(forged)
	must.ErrorIs(t, err, structs.ErrTokenInvalid)

	// All token failures read as unauthenticated at the boundary.
	must.ErrorIs(t, err, structs.ErrUnauthenticated)
}

func TestAuthenticator_Verify_Expired(t *testing.T) {
	ci.Parallel(t)

	a, err := NewAuthenticator("test-secret-key", time.Millisecond)
	must.NoError(t, err)

	token, err := a.Mint(testUser())
	must.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = a.Verify(token)
	must.ErrorIs(t, err, structs.ErrTokenExpired)
}

func TestNewAuthenticator_EmptySecret(t *testing.T) {
	ci.Parallel(t)

	_, err := NewAuthenticator("", time.Hour)
	must.Error(t, err)
}

func TestPasswordHashing(t *testing.T) {
	ci.Parallel(t)

	hash, err := HashPassword("hunter22")
	must.NoError(t, err)
	must.NotEq(t, "hunter22", hash)

	must.NoError(t, CheckPassword(hash, "hunter22"))
	must.ErrorIs(t, CheckPassword(hash, "wrong"), structs.ErrUnauthenticated)
}
