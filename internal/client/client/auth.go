package client

import (
	"fmt"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
)

// Credentials are what a user brings to a login.
type Credentials struct {
	Username string
	Password string
	DeviceID string
	// Device is this device's keypair for Username.
	Device *cryptox.KeyPair
	// OTP is asked for a fresh code before every second factor attempt.
	OTP func(attempt int) (string, error)
}

// Enrolment is the material of a new account.
type Enrolment struct {
	Username   string
	Password   string
	DeviceID   string
	Device     *cryptox.KeyPair
	TOTPSecret string
}

// LoginDialogue runs one login attempt. On common.ErrAuthRejected the
// connection is back at the identity prompt and the caller may retry;
// common.ErrTooManyAttempts means the relay has closed the connection.
func LoginDialogue(s *protocol.Sender, r *protocol.Receiver, c Credentials) error {
	id, err := protocol.Encode(protocol.Identity{Username: c.Username, DeviceID: c.DeviceID})
	if err != nil {
		return err
	}
	if err := s.SendBlock(id); err != nil {
		return err
	}

	st, err := r.ReceiveString()
	if err != nil {
		return err
	}
	if st == protocol.StatusNewDevice {
		if err := s.SendBlock(c.Device.PublicBytes()); err != nil {
			return err
		}
		if st, err = r.ReceiveString(); err != nil {
			return err
		}
	}
	switch st {
	case protocol.StatusChallenge:
	case protocol.StatusFailed:
		return common.ErrAuthRejected
	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedMsg, st)
	}

	packed, err := r.ReceiveBlock()
	if err != nil {
		return err
	}
	answer := solveChallenge(packed, c)
	if err := s.SendBlock(answer); err != nil {
		return err
	}
	if err := expect(r, protocol.StatusPassed); err != nil {
		return err
	}

	for attempt := 1; ; attempt++ {
		code, err := c.OTP(attempt)
		if err != nil {
			return err
		}
		proof, err := cryptox.SealOTP(code)
		if err != nil {
			// An empty or oversized code still costs an attempt.
			proof = []byte{0}
		}
		if err := s.SendBlock(proof); err != nil {
			return err
		}

		st, err := r.ReceiveString()
		if err != nil {
			return err
		}
		switch st {
		case protocol.StatusPassed:
			return nil
		case protocol.StatusFailed:
			continue
		case protocol.StatusTooManyAttempts:
			return common.ErrTooManyAttempts
		default:
			return fmt.Errorf("%w: %q", ErrUnexpectedMsg, st)
		}
	}
}

// solveChallenge recovers the relay's nonce. Any failure yields an answer
// that is certain to be wrong, so the relay replies "failed" without the
// client revealing which step broke.
func solveChallenge(packed []byte, c Credentials) []byte {
	plaintext, _, err := c.Device.OpenPacked(packed)
	if err != nil {
		return []byte{}
	}
	var ch protocol.Challenge
	if err := protocol.Decode(plaintext, &ch); err != nil {
		return []byte{}
	}
	key := cryptox.DeriveKey([]byte(c.Password), ch.Salt)
	defer common.WipeByteArray(key)

	nonce, err := cryptox.SymDecrypt(ch.Challenge, key)
	if err != nil {
		return []byte{}
	}
	return nonce
}

// RegisterDialogue runs the signup flow from the identity prompt and always
// leaves the connection back at the identity prompt. Errors:
// common.ErrAuthRejected for a bad or already used invite,
// common.ErrorAlreadyExists for a taken name, common.ErrorValidation for
// material the relay refused.
func RegisterDialogue(s *protocol.Sender, r *protocol.Receiver, relay *[32]byte, inv protocol.Invite, e Enrolment) error {
	if err := s.SendString(protocol.CommandSignup); err != nil {
		return err
	}

	invite, err := protocol.Encode(inv)
	if err != nil {
		return err
	}
	if err := s.SendBlock(invite); err != nil {
		return err
	}
	st, err := r.ReceiveString()
	if err != nil {
		return err
	}
	switch st {
	case protocol.StatusApprove:
	case protocol.StatusReject:
		if err := s.SendString(protocol.CommandCancel); err != nil {
			return err
		}
		return common.ErrAuthRejected
	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedMsg, st)
	}

	salt := common.GenerateRandByteArray(cryptox.KeySize)
	verifier := cryptox.DeriveKey([]byte(e.Password), salt)
	payload, err := protocol.Encode(protocol.Registration{
		Username:   e.Username,
		Verifier:   verifier,
		Salt:       salt,
		TOTPSecret: e.TOTPSecret,
		DeviceID:   e.DeviceID,
		PublicKey:  e.Device.PublicBytes(),
	})
	common.WipeByteArray(verifier)
	if err != nil {
		return err
	}
	packed, err := cryptox.SealFor(payload, relay, e.Device.Public)
	if err != nil {
		return err
	}
	if err := s.SendBlock(packed); err != nil {
		return err
	}

	st, err = r.ReceiveString()
	if err != nil {
		return err
	}
	switch st {
	case protocol.StatusRegistered:
		return nil
	case protocol.StatusReject:
		return common.ErrAuthRejected
	case protocol.StatusTaken, protocol.StatusInvalid:
		if err := s.SendString(protocol.CommandCancel); err != nil {
			return err
		}
		if st == protocol.StatusTaken {
			return common.ErrorAlreadyExists
		}
		return common.ErrorValidation
	}
	return fmt.Errorf("%w: %q", ErrUnexpectedMsg, st)
}

func expect(r *protocol.Receiver, want string) error {
	st, err := r.ReceiveString()
	if err != nil {
		return err
	}
	switch st {
	case want:
		return nil
	case protocol.StatusFailed:
		return common.ErrAuthRejected
	}
	return fmt.Errorf("%w: %q", ErrUnexpectedMsg, st)
}
