// Package users persists accounts and the device keys bound to them.
package users

import (
	"context"

	"github.com/dmitrijs2005/chatrelay/internal/server/models"
)

// Repository is implemented for every supported SQL dialect. Lookups that
// match nothing return common.ErrorNotFound; inserts that collide with an
// existing username return common.ErrorAlreadyExists.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByLogin(ctx context.Context, userName string) (*models.User, error)
	GetUserByPublicKey(ctx context.Context, publicKey []byte) (*models.User, error)
	AddDeviceKey(ctx context.Context, key *models.DeviceKey) error
	GetDeviceKey(ctx context.Context, userID, deviceID string) ([]byte, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	if err := row.Scan(&u.ID, &u.UserName, &u.Verifier, &u.Salt, &u.TOTPSecret); err != nil {
		return nil, err
	}
	return u, nil
}
