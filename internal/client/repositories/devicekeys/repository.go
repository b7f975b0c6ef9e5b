// Package devicekeys stores the per-user device keypairs of this client.
package devicekeys

import (
	"context"

	"github.com/dmitrijs2005/chatrelay/internal/client/models"
)

// Repository returns common.ErrorNotFound for users without a stored key.
type Repository interface {
	Get(ctx context.Context, username string) (*models.DeviceKey, error)
	Put(ctx context.Context, key *models.DeviceKey) error
	Delete(ctx context.Context, username string) error
}
