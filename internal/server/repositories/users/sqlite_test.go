package users

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/server/migrations"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetBaseFS(migrations.Migrations)
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.UpContext(context.Background(), db, migrations.SQLiteDir))

	return db
}

func TestSQLite_CreateAndLookup(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	u, err := r.Create(ctx, &models.User{
		UserName:   "alice",
		Verifier:   []byte("ver"),
		Salt:       []byte("salt"),
		TOTPSecret: "SECRET",
	})
	require.NoError(t, err)
	require.NotEmpty(t, u.ID)

	got, err := r.GetUserByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, []byte("ver"), got.Verifier)
	assert.Equal(t, []byte("salt"), got.Salt)
	assert.Equal(t, "SECRET", got.TOTPSecret)

	_, err = r.GetUserByLogin(ctx, "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLite_DuplicateUsername(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	_, err := r.Create(ctx, &models.User{UserName: "alice", Verifier: []byte("v"), Salt: []byte("s")})
	require.NoError(t, err)

	_, err = r.Create(ctx, &models.User{UserName: "alice", Verifier: []byte("v2"), Salt: []byte("s2")})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLite_DeviceKeys(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	u, err := r.Create(ctx, &models.User{UserName: "bob", Verifier: []byte("v"), Salt: []byte("s")})
	require.NoError(t, err)

	_, err = r.GetDeviceKey(ctx, u.ID, "laptop")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, r.AddDeviceKey(ctx, &models.DeviceKey{UserID: u.ID, DeviceID: "laptop", PublicKey: []byte("pub-1")}))
	key, err := r.GetDeviceKey(ctx, u.ID, "laptop")
	require.NoError(t, err)
	assert.Equal(t, []byte("pub-1"), key)

	err = r.AddDeviceKey(ctx, &models.DeviceKey{UserID: u.ID, DeviceID: "laptop", PublicKey: []byte("pub-2")})
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
	key, err = r.GetDeviceKey(ctx, u.ID, "laptop")
	require.NoError(t, err)
	assert.Equal(t, []byte("pub-1"), key, "a stored device key is never replaced")

	owner, err := r.GetUserByPublicKey(ctx, []byte("pub-1"))
	require.NoError(t, err)
	assert.Equal(t, "bob", owner.UserName)

	_, err = r.GetUserByPublicKey(ctx, []byte("pub-2"))
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
