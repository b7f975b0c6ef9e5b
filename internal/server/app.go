// Package server initializes and runs the relay: storage, keys, the relay
// listener and its auxiliary health and metrics endpoints.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/chatrelay/internal/filex"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/server/auth"
	"github.com/dmitrijs2005/chatrelay/internal/server/config"
	"github.com/dmitrijs2005/chatrelay/internal/server/metrics"
	"github.com/dmitrijs2005/chatrelay/internal/server/relay"
	"github.com/dmitrijs2005/chatrelay/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chatrelay/internal/server/services"
	"github.com/dmitrijs2005/chatrelay/internal/server/sessions"
	"github.com/dmitrijs2005/chatrelay/internal/tlsx"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/chatrelay/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	registry *sessions.Registry
	metrics  *metrics.Metrics
	relay    *relay.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger, err := logging.New(os.Stdout, true, c.LogLevel)
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
	identity, err := tlsx.LoadOrCreate(stateDir)
	if err != nil {
		return nil, fmt.Errorf("tls identity: %w", err)
	}
	key, err := relay.LoadOrCreateKey(stateDir)
	if err != nil {
		return nil, fmt.Errorf("relay key: %w", err)
	}

	db, m, err := repomanager.Open(c.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}

	users := services.NewUserService(db, m)
	registry := sessions.NewRegistry()
	mt := metrics.New()
	authn := auth.NewAuthenticator(users, registry, key, logger.With("module", "auth"), mt)

	rs := relay.NewServer(relay.Config{
		Address:      c.Address,
		ChunkSize:    chunk,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}, identity, key, authn, registry, users, logger, mt)

	return &App{config: c, logger: logger, db: db, registry: registry, metrics: mt, relay: rs}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves until a signal arrives or one of the listeners fails.
func (app *App) Run(ctx context.Context) error {
	defer app.db.Close()

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	// The operator hands this to the first user, who registers with
	// sponsor "admin".
	app.logger.Info(ctx, "bootstrap invite", "token", app.registry.BootstrapToken())

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.relay.Run(ctx)
	})

	if app.config.HealthAddr != "" {
		g.Go(func() error {
			s := gs.NewGRPCServer(app.config.HealthAddr, app.logger, app.db.PingContext, 0)
			return s.Run(ctx)
		})
	}

	if app.config.MetricsAddr != "" {
		g.Go(func() error {
			return app.metrics.Serve(ctx, app.config.MetricsAddr, app.logger)
		})
	}

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped", "error", err)
	return err
}
