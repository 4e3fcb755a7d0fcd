// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountd/accountd/internal/account"
	"github.com/accountd/accountd/pkg/errutil"
)

func testSession(t *testing.T) *account.WebSession {
	t.Helper()
	now := time.Now()
	return &account.WebSession{
		ID:        ulid.Make(),
		AccountID: ulid.Make(),
		TokenHash: "tokenhash",
		Remember:  true,
		ExpiresAt: now.Add(account.SessionRememberExpiry),
		CreatedAt: now,
		LastSeen:  now,
	}
}

func sessionRows(session *account.WebSession) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "account_id", "token_hash", "remember", "expires_at", "created_at", "last_seen",
	}).AddRow(
		session.ID.String(), session.AccountID.String(), session.TokenHash,
		session.Remember, session.ExpiresAt, session.CreatedAt, session.LastSeen,
	)
}

func TestWebSessionRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	session := testSession(t)
	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs(session.ID.String(), session.AccountID.String(), session.TokenHash,
			session.Remember, session.ExpiresAt, session.CreatedAt, session.LastSeen).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewWebSessionRepository(mock)
	require.NoError(t, repo.Create(context.Background(), session))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebSessionRepository_GetByTokenHash(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		session := testSession(t)
		mock.ExpectQuery(`WHERE token_hash = \$1`).
			WithArgs(session.TokenHash).
			WillReturnRows(sessionRows(session))

		repo := NewWebSessionRepository(mock)
		got, err := repo.GetByTokenHash(context.Background(), session.TokenHash)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.Equal(t, session.AccountID, got.AccountID)
		assert.True(t, got.Remember)
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`WHERE token_hash = \$1`).
			WithArgs("unknown").
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "account_id", "token_hash", "remember", "expires_at", "created_at", "last_seen",
			}))

		repo := NewWebSessionRepository(mock)
		_, err = repo.GetByTokenHash(context.Background(), "unknown")
		require.ErrorIs(t, err, account.ErrNotFound)
	})
}

func TestWebSessionRepository_UpdateLastSeen(t *testing.T) {
	t.Run("updates", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		now := time.Now()
		mock.ExpectExec(`UPDATE sessions SET last_seen`).
			WithArgs(id.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		repo := NewWebSessionRepository(mock)
		require.NoError(t, repo.UpdateLastSeen(context.Background(), id, now))
	})

	t.Run("unknown session", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		mock.ExpectExec(`UPDATE sessions SET last_seen`).
			WithArgs(id.String(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		repo := NewWebSessionRepository(mock)
		err = repo.UpdateLastSeen(context.Background(), id, time.Now())
		require.ErrorIs(t, err, account.ErrNotFound)
	})
}

func TestWebSessionRepository_Delete(t *testing.T) {
	t.Run("deletes", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		mock.ExpectExec(`DELETE FROM sessions WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		repo := NewWebSessionRepository(mock)
		require.NoError(t, repo.Delete(context.Background(), id))
	})

	t.Run("unknown session", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id := ulid.Make()
		mock.ExpectExec(`DELETE FROM sessions WHERE id = \$1`).
			WithArgs(id.String()).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		repo := NewWebSessionRepository(mock)
		err = repo.Delete(context.Background(), id)
		require.ErrorIs(t, err, account.ErrNotFound)
	})
}

func TestWebSessionRepository_DeleteExpired(t *testing.T) {
	t.Run("returns the purge count", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM sessions WHERE expires_at < \$1`).
			WithArgs(pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("DELETE", 3))

		repo := NewWebSessionRepository(mock)
		deleted, err := repo.DeleteExpired(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)
	})

	t.Run("database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM sessions WHERE expires_at < \$1`).
			WithArgs(pgxmock.AnyArg()).
			WillReturnError(errors.New("connection refused"))

		repo := NewWebSessionRepository(mock)
		_, err = repo.DeleteExpired(context.Background())
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_DELETE_EXPIRED_FAILED")
	})
}
