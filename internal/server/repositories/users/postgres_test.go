package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const insertUserQ = `(?s)^INSERT\s+INTO\s+users\s*\(id,\s*username,\s*verifier,\s*salt,\s*totp_secret,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*$`

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertUserQ).
		WithArgs(sqlmock.AnyArg(), "alice", []byte("verifier"), []byte("salt"), "SECRET", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u := &models.User{UserName: "alice", Salt: []byte("salt"), Verifier: []byte("verifier"), TOTPSecret: "SECRET"}
	got, err := repo.Create(context.Background(), u)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got.ID == "" || got.UserName != "alice" || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected user: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertUserQ).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	_, err := repo.Create(context.Background(), &models.User{UserName: "alice"})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertUserQ).
		WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.User{UserName: "alice", Salt: []byte("salt"), Verifier: []byte("verifier")})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

const selectUserQ = `(?s)^SELECT\s+id,\s*username,\s*verifier,\s*salt,\s*totp_secret\s+FROM\s+users\s+WHERE\s+username\s*=\s*\$1\s*$`

func TestGetUserByLogin_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "username", "verifier", "salt", "totp_secret"}).
		AddRow("u-1", "alice", []byte("ver"), []byte("salt"), "SECRET")
	mock.ExpectQuery(selectUserQ).
		WithArgs("alice").
		WillReturnRows(rows)

	got, err := repo.GetUserByLogin(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetUserByLogin error: %v", err)
	}
	if got.ID != "u-1" || got.UserName != "alice" || got.TOTPSecret != "SECRET" {
		t.Fatalf("unexpected user: %+v", got)
	}
}

func TestGetUserByLogin_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectUserQ).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetUserByLogin(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetUserByLogin_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectUserQ).
		WithArgs("alice").
		WillReturnError(errors.New("db err"))

	_, err := repo.GetUserByLogin(context.Background(), "alice")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetUserByPublicKey(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+u\.id,.*FROM\s+users\s+u\s+JOIN\s+user_keys\s+k\s+ON\s+k\.user_id\s*=\s*u\.id\s+WHERE\s+k\.public_key\s*=\s*\$1\s+LIMIT\s+1\s*$`

	rows := sqlmock.NewRows([]string{"id", "username", "verifier", "salt", "totp_secret"}).
		AddRow("u-2", "bob", []byte("ver"), []byte("salt"), "S")
	mock.ExpectQuery(q).WithArgs([]byte("pub")).WillReturnRows(rows)

	got, err := repo.GetUserByPublicKey(context.Background(), []byte("pub"))
	if err != nil {
		t.Fatalf("GetUserByPublicKey error: %v", err)
	}
	if got.UserName != "bob" {
		t.Fatalf("unexpected user: %+v", got)
	}

	mock.ExpectQuery(q).WithArgs([]byte("nope")).WillReturnError(sql.ErrNoRows)
	if _, err := repo.GetUserByPublicKey(context.Background(), []byte("nope")); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestDeviceKeys(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	insertQ := `(?s)^INSERT\s+INTO\s+user_keys\s*\(user_id,\s*device_id,\s*public_key\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*$`
	selectQ := `(?s)^SELECT\s+public_key\s+FROM\s+user_keys\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+device_id\s*=\s*\$2\s*$`

	mock.ExpectExec(insertQ).
		WithArgs("u-1", "dev", []byte("pub")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(selectQ).
		WithArgs("u-1", "dev").
		WillReturnRows(sqlmock.NewRows([]string{"public_key"}).AddRow([]byte("pub")))
	mock.ExpectQuery(selectQ).
		WithArgs("u-1", "other").
		WillReturnError(sql.ErrNoRows)

	ctx := context.Background()
	if err := repo.AddDeviceKey(ctx, &models.DeviceKey{UserID: "u-1", DeviceID: "dev", PublicKey: []byte("pub")}); err != nil {
		t.Fatalf("AddDeviceKey error: %v", err)
	}
	key, err := repo.GetDeviceKey(ctx, "u-1", "dev")
	if err != nil || string(key) != "pub" {
		t.Fatalf("GetDeviceKey = %q, %v", key, err)
	}
	if _, err := repo.GetDeviceKey(ctx, "u-1", "other"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAddDeviceKey_ExistingKeyNotReplaced(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+user_keys`).
		WithArgs("u-1", "dev", []byte("other")).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := repo.AddDeviceKey(context.Background(), &models.DeviceKey{UserID: "u-1", DeviceID: "dev", PublicKey: []byte("other")})
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want common.ErrorAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
