// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package account

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountd/accountd/pkg/errutil"
)

func TestArgon2idHasher_Hash(t *testing.T) {
	hasher := NewArgon2idHasher()

	t.Run("produces a PHC encoded hash", func(t *testing.T) {
		hash, err := hasher.Hash("Password1")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v="))
		assert.Len(t, strings.Split(hash, "$"), 6)
	})

	t.Run("salts are unique per call", func(t *testing.T) {
		first, err := hasher.Hash("Password1")
		require.NoError(t, err)
		second, err := hasher.Hash("Password1")
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		require.ErrorIs(t, err, ErrEmptyPassword)
	})
}

func TestArgon2idHasher_Verify(t *testing.T) {
	hasher := NewArgon2idHasher()

	hash, err := hasher.Hash("Password1")
	require.NoError(t, err)

	t.Run("matching password", func(t *testing.T) {
		ok, err := hasher.Verify("Password1", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong password is a mismatch, not an error", func(t *testing.T) {
		ok, err := hasher.Verify("WrongPass1", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed hash", func(t *testing.T) {
		_, err := hasher.Verify("Password1", "not-a-hash")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_HASH")
	})

	t.Run("unsupported algorithm", func(t *testing.T) {
		_, err := hasher.Verify("Password1", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_HASH")
	})

	t.Run("dummy hash never matches", func(t *testing.T) {
		ok, err := hasher.Verify("Password1", dummyPasswordHash)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
