package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	loggedIn bool

	calls []string
	args  [][]string
}

func (f *fakeExec) isLoggedIn() bool { return f.loggedIn }
func (f *fakeExec) Register(ctx context.Context) error {
	f.calls = append(f.calls, "register")
	return nil
}
func (f *fakeExec) Login(ctx context.Context) error {
	f.calls = append(f.calls, "login")
	f.loggedIn = true
	return nil
}
func (f *fakeExec) Send(ctx context.Context, conv, text string) error {
	f.calls = append(f.calls, "send")
	f.args = append(f.args, []string{conv, text})
	return nil
}
func (f *fakeExec) SendFile(ctx context.Context, conv, path string) error {
	f.calls = append(f.calls, "sendfile")
	f.args = append(f.args, []string{conv, path})
	return nil
}
func (f *fakeExec) Invite(ctx context.Context) error {
	f.calls = append(f.calls, "invite")
	return nil
}
func (f *fakeExec) Whois(ctx context.Context, key string) error {
	f.calls = append(f.calls, "whois")
	f.args = append(f.args, []string{key})
	return nil
}

func (f *fakeExec) Forget(ctx context.Context) error {
	f.calls = append(f.calls, "forget")
	return nil
}

func silencePrintln(t *testing.T) {
	t.Helper()
	orig := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = orig })
}

func TestRunREPL_LoginFlowAndCommands(t *testing.T) {
	silencePrintln(t)

	input := strings.NewReader(strings.Join([]string{
		"help",
		"forget",
		"login",
		"forget",
		"help",
		"send general hello   there ",
		"sendfile 6f1c1f2e-3a5b-4c1d-9e8f-0a1b2c3d4e5f ./cat.gif",
		"invite",
		"whois deadbeef",
		"whois",
		"foobar",
		"exit",
		"invite",
	}, "\n"))

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "status" }, bufio.NewScanner(input))

	assert.Equal(t, []string{"forget", "login", "send", "sendfile", "invite", "whois", "whois"}, exec.calls)
	assert.Equal(t, [][]string{
		{"general", "hello   there"},
		{"6f1c1f2e-3a5b-4c1d-9e8f-0a1b2c3d4e5f", "./cat.gif"},
		{"deadbeef"},
		{""},
	}, exec.args)
}

func TestRunREPL_UsageAndQuit(t *testing.T) {
	var out []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		if s, ok := a[0].(string); ok {
			out = append(out, s)
		}
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })

	input := strings.NewReader("send\nsend general\nsendfile general\nquit\n")
	exec := &fakeExec{loggedIn: true}

	runREPL(context.Background(), exec, func() string { return "s" }, bufio.NewScanner(input))

	assert.Empty(t, exec.calls)
	assert.Contains(t, out, "Usage: send <conversation> <text>")
	assert.Contains(t, out, "Usage: sendfile <conversation> <path>")
	assert.Contains(t, out, "Bye!")
}

func TestRunREPL_EOF(t *testing.T) {
	silencePrintln(t)
	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "" }, bufio.NewScanner(strings.NewReader("register")))
	assert.Equal(t, []string{"register"}, exec.calls)
}
