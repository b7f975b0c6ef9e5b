package cli

import (
	"bufio"
	"context"
	"io"
	"testing"

	"github.com/dmitrijs2005/chatrelay/internal/client/client"
	"github.com/dmitrijs2005/chatrelay/internal/client/config"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
)

type sent struct {
	conv uuid.UUID
	text string
	path string
}

type fakeClient struct {
	username string

	loginErr  error
	otpCodes  []string
	regErr    error
	regKey    *otp.Key
	regInvite protocol.Invite
	regUser   string
	regPass   string
	loginPass string

	invite protocol.Invite
	owners map[[32]byte]string

	sent   []sent
	closed bool

	incoming chan *client.Incoming
}

func (f *fakeClient) Login(_ context.Context, username, password string, otpCode func(int) (string, error)) error {
	f.loginPass = password
	for i := 1; i <= 2; i++ {
		code, err := otpCode(i)
		if err != nil {
			return err
		}
		f.otpCodes = append(f.otpCodes, code)
	}
	if f.loginErr != nil {
		return f.loginErr
	}
	f.username = username
	return nil
}

func (f *fakeClient) Register(_ context.Context, inv protocol.Invite, username, password string) (*otp.Key, error) {
	f.regInvite, f.regUser, f.regPass = inv, username, password
	return f.regKey, f.regErr
}

func (f *fakeClient) Send(conv uuid.UUID, text string) error {
	f.sent = append(f.sent, sent{conv: conv, text: text})
	return nil
}

func (f *fakeClient) SendFile(conv uuid.UUID, path string) error {
	f.sent = append(f.sent, sent{conv: conv, path: path})
	return nil
}

func (f *fakeClient) Invite(context.Context) (protocol.Invite, error) { return f.invite, nil }

func (f *fakeClient) Whois(_ context.Context, pub *[32]byte) (string, error) {
	return f.owners[*pub], nil
}

func (f *fakeClient) Run(ctx context.Context, handle func(*client.Incoming)) error {
	if f.incoming == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for m := range f.incoming {
		handle(m)
	}
	return io.EOF
}

func (f *fakeClient) Username() string { return f.username }
func (f *fakeClient) Close() error     { f.closed = true; return nil }

type fakePins struct{ forgot []string }

func (p *fakePins) Forget(addr string) error {
	p.forgot = append(p.forgot, addr)
	return nil
}

// newTestApp returns an App whose dial hands out fc and counts dials.
func newTestApp(t *testing.T, fc *fakeClient) (*App, *int) {
	t.Helper()
	dials := 0
	a := &App{
		logger:    logging.Discard(),
		downloads: t.TempDir(),
		reader:    bufio.NewReader(nil),
		out:       io.Discard,
		config:    &config.Config{ServerAddr: "relay.test:5002"},
		pins:      &fakePins{},
		dial: func(context.Context) (chatClient, error) {
			dials++
			return fc, nil
		},
	}
	return a, &dials
}

// captureOutput collects everything printed through printlnFn.
func captureOutput(t *testing.T) *[][]any {
	t.Helper()
	var lines [][]any
	orig := printlnFn
	printlnFn = func(args ...any) (int, error) {
		lines = append(lines, args)
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

// stubInputs answers text prompts in order and the password prompt with password.
func stubInputs(t *testing.T, password string, answers ...string) *[]string {
	t.Helper()
	var prompts []string
	origST, origGP := getSimpleText, getPassword
	getSimpleText = func(_ *bufio.Reader, prompt string, _ io.Writer) (string, error) {
		prompts = append(prompts, prompt)
		if len(answers) == 0 {
			return "", io.EOF
		}
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}
	getPassword = func(_ io.Writer) ([]byte, error) { return []byte(password), nil }
	t.Cleanup(func() {
		getSimpleText = origST
		getPassword = origGP
	})
	return &prompts
}
