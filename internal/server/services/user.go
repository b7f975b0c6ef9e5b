// Package services contains server-side business logic. UserService is the
// user store consumed by the authentication dialogue and the relay's
// command table.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/dmitrijs2005/chatrelay/internal/dbx"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/repomanager"
	"github.com/pquerna/otp/totp"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9]{3,20}$`)

// UserService reads and writes accounts through the repository manager.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

// NewUserService constructs a UserService.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager) *UserService {
	return &UserService{db: db, repomanager: m}
}

// LookupUser returns the account for username or common.ErrorNotFound.
func (s *UserService) LookupUser(ctx context.Context, username string) (*models.User, error) {
	u, err := s.repomanager.Users(s.db).GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return u, nil
}

// DeviceKey returns the public key stored for (userID, deviceID) or
// common.ErrorNotFound.
func (s *UserService) DeviceKey(ctx context.Context, userID, deviceID string) ([]byte, error) {
	key, err := s.repomanager.Users(s.db).GetDeviceKey(ctx, userID, deviceID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return key, nil
}

// AddDeviceKey binds publicKey to (userID, deviceID).
func (s *UserService) AddDeviceKey(ctx context.Context, userID, deviceID string, publicKey []byte) error {
	err := s.repomanager.Users(s.db).AddDeviceKey(ctx, &models.DeviceKey{
		UserID:    userID,
		DeviceID:  deviceID,
		PublicKey: publicKey,
	})
	if err != nil {
		return fmt.Errorf("error storing device key: %w", err)
	}
	return nil
}

// UsernameByPublicKey resolves a device key to the username owning it.
func (s *UserService) UsernameByPublicKey(ctx context.Context, publicKey []byte) (string, error) {
	u, err := s.repomanager.Users(s.db).GetUserByPublicKey(ctx, publicKey)
	if err != nil {
		return "", err
	}
	return u.UserName, nil
}

// ValidateRegistration checks the material of a registration request.
// A reserved name yields common.ErrorAlreadyExists, anything malformed
// common.ErrorValidation.
func ValidateRegistration(reg *protocol.Registration) error {
	if reg.Username == common.AdminSponsor {
		return fmt.Errorf("username %q is reserved: %w", reg.Username, common.ErrorAlreadyExists)
	}
	if !usernameRe.MatchString(reg.Username) {
		return fmt.Errorf("%w: username must be 3-20 letters or digits", common.ErrorValidation)
	}
	if len(reg.Verifier) != cryptox.KeySize {
		return fmt.Errorf("%w: verifier must be %d bytes", common.ErrorValidation, cryptox.KeySize)
	}
	if len(reg.Salt) < 16 {
		return fmt.Errorf("%w: salt too short", common.ErrorValidation)
	}
	if reg.DeviceID == "" {
		return fmt.Errorf("%w: empty device id", common.ErrorValidation)
	}
	if _, err := cryptox.ImportPublicKey(reg.PublicKey); err != nil {
		return fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	if reg.TOTPSecret == "" {
		return fmt.Errorf("%w: empty second factor secret", common.ErrorValidation)
	}
	if _, err := totp.GenerateCode(reg.TOTPSecret, time.Now()); err != nil {
		return fmt.Errorf("%w: bad second factor secret", common.ErrorValidation)
	}
	return nil
}

// CreateUser validates reg and inserts the account together with its
// first device key in one transaction.
func (s *UserService) CreateUser(ctx context.Context, reg *protocol.Registration) error {
	if err := ValidateRegistration(reg); err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		u, err := repo.Create(ctx, &models.User{
			UserName:   reg.Username,
			Verifier:   reg.Verifier,
			Salt:       reg.Salt,
			TOTPSecret: reg.TOTPSecret,
		})
		if err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) {
				return err
			}
			return fmt.Errorf("error creating user: %w", err)
		}

		if err := repo.AddDeviceKey(ctx, &models.DeviceKey{
			UserID:    u.ID,
			DeviceID:  reg.DeviceID,
			PublicKey: reg.PublicKey,
		}); err != nil {
			return fmt.Errorf("error storing device key: %w", err)
		}
		return nil
	})
}
