package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

var errAlreadyLoggedIn = errors.New("already logged in")

// retryable reports whether the relay is still waiting at the identity
// prompt after err, so the same connection can be used again.
func retryable(err error) bool {
	return errors.Is(err, common.ErrAuthRejected) ||
		errors.Is(err, common.ErrorAlreadyExists) ||
		errors.Is(err, common.ErrorValidation)
}

// Register asks for an invite and new credentials and creates an account.
// The second factor secret is printed once; it is not stored anywhere.
func (a *App) Register(ctx context.Context) error {
	if a.isLoggedIn() {
		return errAlreadyLoggedIn
	}

	token, err := getSimpleText(a.reader, "Enter invite token", a.out)
	if err != nil {
		return err
	}
	sponsor, err := getSimpleText(a.reader, "Enter sponsor", a.out)
	if err != nil {
		return err
	}
	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	c, err := a.connection(ctx)
	if err != nil {
		return err
	}

	key, err := c.Register(ctx, protocol.Invite{Token: token, Sponsor: sponsor}, userName, string(password))
	if err != nil {
		if !retryable(err) {
			a.disconnect()
		}
		return err
	}

	printlnFn("Registered", userName)
	printlnFn("Add this secret to your authenticator app:", key.Secret())
	printlnFn(key.URL())
	return nil
}

// Login asks for credentials, then for one-time codes until the relay
// accepts one or the attempt budget runs out. On success a background
// goroutine starts printing incoming messages.
func (a *App) Login(ctx context.Context) error {
	if a.isLoggedIn() {
		return errAlreadyLoggedIn
	}

	userName, err := getSimpleText(a.reader, "Enter username", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword(a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	c, err := a.connection(ctx)
	if err != nil {
		return err
	}

	if err := c.Login(ctx, userName, string(password), a.promptOTP); err != nil {
		if !retryable(err) {
			a.disconnect()
		}
		a.logger.Warn(ctx, "login unsuccessful", "user", userName, "error", err)
		return err
	}

	a.mu.Lock()
	a.loggedIn = true
	a.mu.Unlock()

	printlnFn("Logged in as", userName)
	go a.receive(ctx, c)
	return nil
}

func (a *App) promptOTP(attempt int) (string, error) {
	prompt := "Enter one-time code"
	if attempt > 1 {
		prompt = fmt.Sprintf("Wrong code, try again (attempt %d)", attempt)
	}
	return getSimpleText(a.reader, prompt, a.out)
}
