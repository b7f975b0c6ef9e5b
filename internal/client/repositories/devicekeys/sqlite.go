package devicekeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatrelay/internal/client/models"
	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, username string) (*models.DeviceKey, error) {
	k := &models.DeviceKey{Username: username}
	err := r.db.QueryRowContext(ctx,
		`SELECT device_id, private_key FROM device_keys WHERE username = ?`, username).
		Scan(&k.DeviceID, &k.PrivateKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device key[%s]: %w", username, err)
	}
	return k, nil
}

// Put upserts the key of k.Username.
func (r *SQLiteRepository) Put(ctx context.Context, k *models.DeviceKey) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_keys (username, device_id, private_key) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET device_id = excluded.device_id,
			private_key = excluded.private_key
	`, k.Username, k.DeviceID, k.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to store device key[%s]: %w", k.Username, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, username string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM device_keys WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("failed to delete device key[%s]: %w", username, err)
	}
	return nil
}
