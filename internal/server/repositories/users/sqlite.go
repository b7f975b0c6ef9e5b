package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/dbx"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteRepository implements Repository for single-node deployments and
// tests.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `INSERT INTO users (id, username, verifier, salt, totp_secret, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	id := uuid.NewString()
	createdAt := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, query,
		id, user.UserName, user.Verifier, user.Salt, user.TOTPSecret, createdAt)
	if err != nil {
		var se *sqlite.Error
		if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	user.ID = id
	user.CreatedAt = createdAt
	return user, nil
}

func (r *SQLiteRepository) GetUserByLogin(ctx context.Context, userName string) (*models.User, error) {
	return r.getUser(ctx,
		`SELECT id, username, verifier, salt, totp_secret FROM users WHERE username = ?`, userName)
}

func (r *SQLiteRepository) GetUserByPublicKey(ctx context.Context, publicKey []byte) (*models.User, error) {
	return r.getUser(ctx,
		`SELECT u.id, u.username, u.verifier, u.salt, u.totp_secret FROM users u
		JOIN user_keys k ON k.user_id = u.id
		WHERE k.public_key = ? LIMIT 1`, publicKey)
}

func (r *SQLiteRepository) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select user: %w", err)
	}
	return user, nil
}

// AddDeviceKey stores a new device key. A key already bound to the device
// is never replaced; that case yields common.ErrorAlreadyExists.
func (r *SQLiteRepository) AddDeviceKey(ctx context.Context, key *models.DeviceKey) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_keys (user_id, device_id, public_key) VALUES (?, ?, ?)`,
		key.UserID, key.DeviceID, key.PublicKey)
	if err != nil {
		var se *sqlite.Error
		if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("failed to insert device key: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetDeviceKey(ctx context.Context, userID, deviceID string) ([]byte, error) {
	var key []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT public_key FROM user_keys WHERE user_id = ? AND device_id = ?`, userID, deviceID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select device key: %w", err)
	}
	return key, nil
}
