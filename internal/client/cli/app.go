package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/chatrelay/internal/client/client"
	"github.com/dmitrijs2005/chatrelay/internal/client/config"
	"github.com/dmitrijs2005/chatrelay/internal/client/repositories/devicekeys"
	"github.com/dmitrijs2005/chatrelay/internal/filex"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/tlsx"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
)

// chatClient is the part of *client.Client the REPL drives.
type chatClient interface {
	Login(ctx context.Context, username, password string, otpCode func(attempt int) (string, error)) error
	Register(ctx context.Context, inv protocol.Invite, username, password string) (*otp.Key, error)
	Send(conv uuid.UUID, text string) error
	SendFile(conv uuid.UUID, path string) error
	Invite(ctx context.Context) (protocol.Invite, error)
	Whois(ctx context.Context, pub *[32]byte) (string, error)
	Run(ctx context.Context, handle func(*client.Incoming)) error
	Username() string
	Close() error
}

type pinStore interface {
	Forget(addr string) error
}

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	downloads string
	reader    *bufio.Reader
	out       io.Writer
	pins      pinStore

	dial func(ctx context.Context) (chatClient, error)

	mu       sync.Mutex
	client   chatClient
	loggedIn bool
	// lastSender is the key of the most recent incoming message, the
	// default subject of whois. senders maps fingerprints to full keys.
	lastSender *[32]byte
	senders    map[string]*[32]byte
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger, err := logging.New(os.Stderr, false, c.LogLevel)
	if err != nil {
		return nil, err
	}

	chunk := protocol.ChunkSize(c.ChunkSize)
	if !chunk.Valid() {
		return nil, fmt.Errorf("invalid chunk size %d", c.ChunkSize)
	}

	stateDir, err := filex.EnsureDir(c.StateDir)
	if err != nil {
		return nil, err
	}
	downloads, err := filex.EnsureDir(filepath.Join(stateDir, "downloads"))
	if err != nil {
		return nil, err
	}

	pins, err := tlsx.NewPinStore(filepath.Join(stateDir, "pins"))
	if err != nil {
		return nil, err
	}

	db, err := client.InitDatabase(ctx, filepath.Join(stateDir, "keys.db"))
	if err != nil {
		logger.Error(ctx, "error initializing database", "error", err)
		return nil, err
	}
	keys := devicekeys.NewSQLiteRepository(db)

	a := &App{
		config:    c,
		logger:    logger,
		db:        db,
		downloads: downloads,
		reader:    bufio.NewReader(os.Stdin),
		out:       os.Stdout,
		pins:      pins,
	}
	a.dial = func(ctx context.Context) (chatClient, error) {
		cl, err := client.Dial(ctx, c.ServerAddr, pins, keys, client.Options{ChunkSize: chunk, Logger: logger})
		if err != nil {
			return nil, err
		}
		if cl.FirstUse {
			printlnFn("Pinned certificate of", c.ServerAddr)
		}
		return cl, nil
	}
	return a, nil
}

// Run starts the REPL and blocks until the user exits.
func (a *App) Run(ctx context.Context) {
	defer a.db.Close()
	defer a.disconnect()

	printlnFn("Welcome to chatrelay (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

// connection returns the live connection, dialing one if needed.
func (a *App) connection(ctx context.Context) (chatClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return a.client, nil
	}
	c, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	a.client = c
	return c, nil
}

// disconnect drops the connection. The next command redials.
func (a *App) disconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		_ = a.client.Close()
	}
	a.client = nil
	a.loggedIn = false
}

// Forget drops the pinned certificate of the configured relay, so the next
// connection pins whatever certificate the relay presents.
func (a *App) Forget(_ context.Context) error {
	a.disconnect()
	if err := a.pins.Forget(a.config.ServerAddr); err != nil {
		return err
	}
	printlnFn("Forgot certificate of", a.config.ServerAddr)
	return nil
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loggedIn
}

func (a *App) getStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loggedIn {
		return "(offline)"
	}
	return fmt.Sprintf("(%s)", a.client.Username())
}
