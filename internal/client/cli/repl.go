package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Send(ctx context.Context, conv, text string) error
	SendFile(ctx context.Context, conv, path string) error
	Invite(ctx context.Context) error
	Whois(ctx context.Context, key string) error
	Forget(ctx context.Context) error
}

// runREPL reads commands line by line and dispatches them to a. The loop
// exits on scanner EOF or when the user types "exit" or "quit".
//
//	Not logged in: help, register, login, forget, exit
//	Logged in:     help, send, sendfile, invite, whois, exit
//
// Handler errors are printed and the loop carries on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("chat %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: send <conversation> <text>, sendfile <conversation> <path>, invite, whois [key], exit")
			} else {
				printlnFn("Available commands: register, login, forget, exit")
			}

		case "register":
			err = a.Register(ctx)

		case "login":
			err = a.Login(ctx)

		case "send":
			conv, text, ok := strings.Cut(rest, " ")
			if !ok || strings.TrimSpace(text) == "" {
				printlnFn("Usage: send <conversation> <text>")
				continue
			}
			err = a.Send(ctx, conv, strings.TrimSpace(text))

		case "sendfile":
			conv, path, ok := strings.Cut(rest, " ")
			if !ok || strings.TrimSpace(path) == "" {
				printlnFn("Usage: sendfile <conversation> <path>")
				continue
			}
			err = a.SendFile(ctx, conv, strings.TrimSpace(path))

		case "invite":
			err = a.Invite(ctx)

		case "whois":
			err = a.Whois(ctx, rest)

		case "forget":
			if a.isLoggedIn() {
				printlnFn("Log out first (exit and restart)")
				continue
			}
			err = a.Forget(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
