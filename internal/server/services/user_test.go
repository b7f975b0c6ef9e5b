package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/dmitrijs2005/chatrelay/internal/dbx"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/chatrelay/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "JBSWY3DPEHPK3PXP"

func newSQLiteService(t *testing.T) *UserService {
	t.Helper()
	db, m, err := repomanager.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, m.RunMigrations(context.Background(), db))
	return NewUserService(db, m)
}

func validRegistration(t *testing.T, name string) *protocol.Registration {
	t.Helper()
	kp, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)
	salt := common.GenerateRandByteArray(16)
	return &protocol.Registration{
		Username:   name,
		Verifier:   cryptox.NewKey(),
		Salt:       salt,
		TOTPSecret: testSecret,
		DeviceID:   "device-1",
		PublicKey:  kp.PublicBytes(),
	}
}

func TestCreateUser_PersistsUserAndDevice(t *testing.T) {
	s := newSQLiteService(t)
	ctx := context.Background()
	reg := validRegistration(t, "alice")

	require.NoError(t, s.CreateUser(ctx, reg))

	u, err := s.LookupUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, reg.Verifier, u.Verifier)
	assert.Equal(t, testSecret, u.TOTPSecret)

	key, err := s.DeviceKey(ctx, u.ID, "device-1")
	require.NoError(t, err)
	assert.Equal(t, reg.PublicKey, key)

	name, err := s.UsernameByPublicKey(ctx, reg.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	_, err = s.DeviceKey(ctx, u.ID, "device-2")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestCreateUser_Duplicate(t *testing.T) {
	s := newSQLiteService(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, validRegistration(t, "alice")))
	err := s.CreateUser(ctx, validRegistration(t, "alice"))
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestAddDeviceKey(t *testing.T) {
	s := newSQLiteService(t)
	ctx := context.Background()
	require.NoError(t, s.CreateUser(ctx, validRegistration(t, "bob")))
	u, err := s.LookupUser(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, s.AddDeviceKey(ctx, u.ID, "phone", []byte("phone-key-32-bytes-long-padding!")))
	key, err := s.DeviceKey(ctx, u.ID, "phone")
	require.NoError(t, err)
	assert.Equal(t, "phone-key-32-bytes-long-padding!", string(key))
}

func TestLookupUser_NotFound(t *testing.T) {
	s := newSQLiteService(t)
	_, err := s.LookupUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *protocol.Registration)
		want   error
	}{
		{name: "valid", mutate: func(r *protocol.Registration) {}},
		{name: "reserved admin", mutate: func(r *protocol.Registration) { r.Username = common.AdminSponsor }, want: common.ErrorAlreadyExists},
		{name: "too short", mutate: func(r *protocol.Registration) { r.Username = "ab" }, want: common.ErrorValidation},
		{name: "too long", mutate: func(r *protocol.Registration) { r.Username = strings.Repeat("a", 21) }, want: common.ErrorValidation},
		{name: "not alphanumeric", mutate: func(r *protocol.Registration) { r.Username = "al ice" }, want: common.ErrorValidation},
		{name: "short verifier", mutate: func(r *protocol.Registration) { r.Verifier = []byte("x") }, want: common.ErrorValidation},
		{name: "short salt", mutate: func(r *protocol.Registration) { r.Salt = []byte("x") }, want: common.ErrorValidation},
		{name: "no device", mutate: func(r *protocol.Registration) { r.DeviceID = "" }, want: common.ErrorValidation},
		{name: "bad public key", mutate: func(r *protocol.Registration) { r.PublicKey = []byte("short") }, want: common.ErrorValidation},
		{name: "no secret", mutate: func(r *protocol.Registration) { r.TOTPSecret = "" }, want: common.ErrorValidation},
		{name: "secret not base32", mutate: func(r *protocol.Registration) { r.TOTPSecret = "!!!!" }, want: common.ErrorValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRegistration(t, "alice")
			tt.mutate(r)
			err := ValidateRegistration(r)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// --- transaction behaviour with a failing repository ---

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

type fakeUsersRepo struct {
	usersrepo.Repository
	createErr error
	keyErr    error
}

func (f *fakeUsersRepo) Create(_ context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	u.ID = "u-1"
	return u, nil
}

func (f *fakeUsersRepo) AddDeviceKey(context.Context, *models.DeviceKey) error {
	return f.keyErr
}

type fakeRepoManager struct {
	u *fakeUsersRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository         { return m.u }

func TestCreateUser_RollsBackOnDeviceKeyError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	s := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{keyErr: errBoom{}}})
	err = s.CreateUser(context.Background(), validRegistration(t, "alice"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom{}))
	assert.Contains(t, err.Error(), "error storing device key")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	s := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{}})
	require.NoError(t, s.CreateUser(context.Background(), validRegistration(t, "alice")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_InvalidNeverOpensTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewUserService(db, &fakeRepoManager{u: &fakeUsersRepo{}})
	reg := validRegistration(t, "x")
	err = s.CreateUser(context.Background(), reg)
	assert.ErrorIs(t, err, common.ErrorValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}
