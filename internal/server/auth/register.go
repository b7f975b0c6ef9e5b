package auth

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/server/services"
)

// register runs the invite-gated signup flow that follows "/signup". A nil
// error means the connection is back in AwaitingIdentity.
func (a *Authenticator) register(ctx context.Context, c *conn) error {
	inv, cancelled, err := a.awaitInvite(c)
	if err != nil || cancelled {
		return err
	}

	for {
		block, err := c.r.ReceiveBlock()
		if err != nil {
			return err
		}
		if string(block) == protocol.CommandCancel {
			return nil
		}

		plaintext, _, err := a.relay.OpenPacked(block)
		if err != nil {
			return err
		}
		var reg protocol.Registration
		if err := protocol.Decode(plaintext, &reg); err != nil {
			return err
		}

		if err := services.ValidateRegistration(&reg); err != nil {
			if err := c.status(statusFor(err)); err != nil {
				return err
			}
			continue
		}

		err = a.registry.ConsumeInvite(inv.Sponsor, inv.Token, func() error {
			return a.store.CreateUser(ctx, &reg)
		})
		switch {
		case err == nil:
			c.log.Info(ctx, "user registered", "user", reg.Username, "sponsor", inv.Sponsor)
			a.outcome("registered")
			return c.status(protocol.StatusRegistered)
		case errors.Is(err, common.ErrAuthRejected):
			// The token was used by someone else between approve and now.
			return c.status(protocol.StatusReject)
		case errors.Is(err, common.ErrorAlreadyExists), errors.Is(err, common.ErrorValidation):
			if err := c.status(statusFor(err)); err != nil {
				return err
			}
			continue
		}

		_ = c.status(protocol.StatusFailed)
		return err
	}
}

// awaitInvite loops until the client presents a valid invite or cancels.
func (a *Authenticator) awaitInvite(c *conn) (*protocol.Invite, bool, error) {
	for {
		block, err := c.r.ReceiveBlock()
		if err != nil {
			return nil, false, err
		}
		if string(block) == protocol.CommandCancel {
			return nil, true, nil
		}

		var inv protocol.Invite
		if err := protocol.Decode(block, &inv); err != nil {
			return nil, false, err
		}

		if !a.registry.ValidInvite(inv.Sponsor, inv.Token) {
			a.outcome("invite_rejected")
			if err := c.status(protocol.StatusReject); err != nil {
				return nil, false, err
			}
			continue
		}

		if err := c.status(protocol.StatusApprove); err != nil {
			return nil, false, err
		}
		return &inv, false, nil
	}
}

func statusFor(err error) string {
	if errors.Is(err, common.ErrorAlreadyExists) {
		return protocol.StatusTaken
	}
	return protocol.StatusInvalid
}
