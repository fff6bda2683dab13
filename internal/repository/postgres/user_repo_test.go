package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/cross-messenger/internal/errs"
	"github.com/and161185/cross-messenger/internal/model"
)

func TestUserRepo_Create_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Email:    "a@b.c",
		PwdHash:  []byte{1},
		SaltAuth: []byte{2},
	}
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, u.Email, u.PwdHash, u.SaltAuth).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, r.Create(context.Background(), u))
}

func TestUserRepo_Create_DuplicateEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	u := &model.User{ID: uuid.Must(uuid.NewV4()), Email: "a@b.c"}
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(u.ID, u.Email, u.PwdHash, u.SaltAuth).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := r.Create(context.Background(), u)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestUserRepo_GetByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	id := uuid.Must(uuid.NewV4())
	rows := pgxmock.NewRows([]string{"id", "email", "pwd_hash", "salt_auth", "created_at"}).
		AddRow(id, "a@b.c", []byte{1}, []byte{2}, time.Now())

	mock.ExpectQuery(`SELECT id, email, pwd_hash, salt_auth, created_at`).
		WithArgs("a@b.c").
		WillReturnRows(rows)

	u, err := r.GetByEmail(context.Background(), "a@b.c")
	require.NoError(t, err)
	require.Equal(t, id, u.ID)
}

func TestUserRepo_GetByID_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewUserRepo(db)

	id := uuid.Must(uuid.NewV4())
	mock.ExpectQuery(`SELECT id, email, pwd_hash, salt_auth, created_at`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "pwd_hash", "salt_auth", "created_at"}))

	_, err := r.GetByID(context.Background(), id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
