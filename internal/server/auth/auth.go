// Package auth runs the relay side of the authentication and registration
// dialogue on a freshly secured connection.
//
// States:
//
//	AwaitingIdentity -> (new device)? -> ChallengeIssued -> ChallengeVerified
//	  -> SecondFactorPending -> Authenticated | Rejected
//
// A failed password check or a rejected registration returns to
// AwaitingIdentity on the same connection. Only exhausting the second factor
// budget or a broken stream ends the dialogue.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/server/models"
	"github.com/dmitrijs2005/chatrelay/internal/server/sessions"
)

// MaxOTPAttempts is the second factor budget of one login.
const MaxOTPAttempts = 5

const nonceSize = 32

// UserStore is the narrow persistence surface the dialogue needs.
type UserStore interface {
	LookupUser(ctx context.Context, username string) (*models.User, error)
	DeviceKey(ctx context.Context, userID, deviceID string) ([]byte, error)
	AddDeviceKey(ctx context.Context, userID, deviceID string, publicKey []byte) error
	CreateUser(ctx context.Context, reg *protocol.Registration) error
}

// Observer is told about dialogue outcomes. It may be nil.
type Observer interface {
	AuthOutcome(outcome string)
}

// Authenticator is shared by all connections.
type Authenticator struct {
	store    UserStore
	registry *sessions.Registry
	relay    *cryptox.KeyPair
	log      logging.Logger
	observer Observer
	now      func() time.Time
}

// NewAuthenticator wires the dialogue to its collaborators.
func NewAuthenticator(store UserStore, registry *sessions.Registry, relay *cryptox.KeyPair, log logging.Logger, observer Observer) *Authenticator {
	return &Authenticator{
		store:    store,
		registry: registry,
		relay:    relay,
		log:      log,
		observer: observer,
		now:      time.Now,
	}
}

type conn struct {
	s   *protocol.Sender
	r   *protocol.Receiver
	log logging.Logger
}

func (c *conn) status(v string) error {
	return c.s.SendString(v)
}

// Run drives the dialogue until a session is established. The returned
// session is already registered and visible to fan-out; the caller must remove it on disconnect.
func (a *Authenticator) Run(ctx context.Context, s *protocol.Sender, r *protocol.Receiver, log logging.Logger) (*sessions.Session, error) {
	c := &conn{s: s, r: r, log: log}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		first, err := r.ReceiveBlock()
		if err != nil {
			return nil, err
		}

		if string(first) == protocol.CommandSignup {
			if err := a.register(ctx, c); err != nil {
				return nil, err
			}
			continue
		}

		var id protocol.Identity
		if err := protocol.Decode(first, &id); err != nil {
			return nil, err
		}

		sess, err := a.login(ctx, c, &id)
		switch {
		case err == nil:
			a.outcome("passed")
			return sess, nil
		case errors.Is(err, common.ErrAuthRejected):
			a.outcome("failed")
			c.log.Info(ctx, "login rejected", "user", id.Username)
			continue
		case errors.Is(err, common.ErrTooManyAttempts):
			a.outcome("too_many_attempts")
		}
		return nil, err
	}
}

// login runs one attempt. ErrAuthRejected means the client was told
// "failed" and may try again on the same connection.
func (a *Authenticator) login(ctx context.Context, c *conn, id *protocol.Identity) (*sessions.Session, error) {
	if a.registry.Active(id.Username) {
		return nil, a.reject(c)
	}

	user, err := a.store.LookupUser(ctx, id.Username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, a.reject(c)
		}
		_ = c.status(protocol.StatusFailed)
		return nil, err
	}

	pub, newDevice, err := a.devicePublicKey(ctx, c, user, id.DeviceID)
	if err != nil {
		return nil, err
	}

	// ChallengeIssued
	nonce := common.GenerateRandByteArray(nonceSize)
	sealedNonce, _, err := cryptox.SymEncrypt(nonce, user.Verifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	payload, err := protocol.Encode(protocol.Challenge{Salt: user.Salt, Challenge: sealedNonce})
	if err != nil {
		return nil, err
	}
	packed, err := cryptox.SealFor(payload, pub, a.relay.Public)
	if err != nil {
		return nil, err
	}
	if err := c.status(protocol.StatusChallenge); err != nil {
		return nil, err
	}
	if err := c.s.SendBlock(packed); err != nil {
		return nil, err
	}

	answer, err := c.r.ReceiveBlock()
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(answer, nonce) != 1 {
		return nil, a.reject(c)
	}

	// ChallengeVerified
	if err := c.status(protocol.StatusPassed); err != nil {
		return nil, err
	}

	// SecondFactorPending
	if err := a.secondFactor(c, user); err != nil {
		return nil, err
	}

	sess := &sessions.Session{
		Username:  user.UserName,
		DeviceID:  id.DeviceID,
		PublicKey: pub,
		Sender:    c.s,
	}
	// Reserved, not published: fan-out must not write into this connection
	// before the final status below.
	if err := a.registry.Reserve(sess); err != nil {
		// Another connection authenticated the same user meanwhile.
		return nil, a.reject(c)
	}

	if newDevice {
		if err := a.store.AddDeviceKey(ctx, user.ID, id.DeviceID, pub[:]); err != nil {
			a.registry.Remove(sess)
			_ = c.status(protocol.StatusFailed)
			return nil, err
		}
	}

	if err := c.status(protocol.StatusPassed); err != nil {
		a.registry.Remove(sess)
		return nil, err
	}
	a.registry.Publish(sess)
	return sess, nil
}

// devicePublicKey returns the stored key of the device, or asks the client
// for a fresh one. A fresh key is kept in memory only.
func (a *Authenticator) devicePublicKey(ctx context.Context, c *conn, user *models.User, deviceID string) (*[32]byte, bool, error) {
	raw, err := a.store.DeviceKey(ctx, user.ID, deviceID)
	if err == nil {
		pub, err := cryptox.ImportPublicKey(raw)
		return pub, false, err
	}
	if !errors.Is(err, common.ErrorNotFound) {
		_ = c.status(protocol.StatusFailed)
		return nil, false, err
	}

	if err := c.status(protocol.StatusNewDevice); err != nil {
		return nil, false, err
	}
	raw, err = c.r.ReceiveBlock()
	if err != nil {
		return nil, false, err
	}
	pub, err := cryptox.ImportPublicKey(raw)
	if err != nil {
		return nil, false, err
	}
	c.log.Debug(ctx, "new device presented", "user", user.UserName, "device", deviceID)
	return pub, true, nil
}

func (a *Authenticator) secondFactor(c *conn, user *models.User) error {
	for attempt := 1; attempt <= MaxOTPAttempts; attempt++ {
		proof, err := c.r.ReceiveBlock()
		if err != nil {
			return err
		}
		if verifyOTPProof(user.TOTPSecret, proof, a.now()) {
			return nil
		}
		if attempt < MaxOTPAttempts {
			if err := c.status(protocol.StatusFailed); err != nil {
				return err
			}
		}
	}
	_ = c.status(protocol.StatusTooManyAttempts)
	return common.ErrTooManyAttempts
}

func (a *Authenticator) reject(c *conn) error {
	if err := c.status(protocol.StatusFailed); err != nil {
		return err
	}
	return common.ErrAuthRejected
}

func (a *Authenticator) outcome(v string) {
	if a.observer != nil {
		a.observer.AuthOutcome(v)
	}
}
