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
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (id, username, verifier, salt, totp_secret, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 `

	id := uuid.NewString()
	createdAt := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, query,
		id, user.UserName, user.Verifier, user.Salt, user.TOTPSecret, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.ID = id
	user.CreatedAt = createdAt
	return user, nil
}

func (r *PostgresRepository) GetUserByLogin(ctx context.Context, userName string) (*models.User, error) {
	query :=
		`SELECT id, username, verifier, salt, totp_secret FROM users
		 WHERE username = $1
		 `

	return r.getUser(ctx, query, userName)
}

func (r *PostgresRepository) GetUserByPublicKey(ctx context.Context, publicKey []byte) (*models.User, error) {
	query :=
		`SELECT u.id, u.username, u.verifier, u.salt, u.totp_secret FROM users u
		 JOIN user_keys k ON k.user_id = u.id
		 WHERE k.public_key = $1
		 LIMIT 1
		 `

	return r.getUser(ctx, query, publicKey)
}

func (r *PostgresRepository) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return user, nil
}

func (r *PostgresRepository) AddDeviceKey(ctx context.Context, key *models.DeviceKey) error {
	query :=
		`INSERT INTO user_keys (user_id, device_id, public_key)
		 VALUES ($1, $2, $3)
		 `

	if _, err := r.db.ExecContext(ctx, query, key.UserID, key.DeviceID, key.PublicKey); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetDeviceKey(ctx context.Context, userID, deviceID string) ([]byte, error) {
	query :=
		`SELECT public_key FROM user_keys
		 WHERE user_id = $1 AND device_id = $2
		 `

	var key []byte
	if err := r.db.QueryRowContext(ctx, query, userID, deviceID).Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return key, nil
}
