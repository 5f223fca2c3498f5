package credential

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return NewPostgresStore(mock), mock
}

func TestGetByEmail(t *testing.T) {
	store, mock := newMockStore(t)

	rows := pgxmock.NewRows([]string{"id", "email", "password_hash", "is_active"}).
		AddRow("u1", "a@b.com", "$argon2id$...", true)
	mock.ExpectQuery("SELECT id, email, password_hash, is_active").
		WithArgs("a@b.com").
		WillReturnRows(rows)

	user, err := store.GetByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, "a@b.com", user.Email)
	assert.True(t, user.IsActive)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, email, password_hash, is_active").
		WithArgs("missing@b.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "password_hash", "is_active"}))

	_, err := store.GetByEmail(context.Background(), "missing@b.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePassword(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users").
		WithArgs("newhash", "a@b.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdatePassword(context.Background(), "a@b.com", "newhash")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePasswordUnknownAccount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE users").
		WithArgs("newhash", "missing@b.com").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdatePassword(context.Background(), "missing@b.com", "newhash")
	assert.ErrorIs(t, err, ErrNotFound)
}
