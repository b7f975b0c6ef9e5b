// Package relay accepts client connections, secures them, authenticates
// the user and fans every message out to all other sessions.
package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/server/auth"
	"github.com/dmitrijs2005/chatrelay/internal/server/sessions"
	"github.com/dmitrijs2005/chatrelay/internal/tlsx"
)

// Observer receives relay events. See metrics.Metrics.
type Observer interface {
	auth.Observer
	ConnectionAccepted()
	SessionOpened()
	SessionClosed()
	Relayed(msgType string)
	FanoutFailed()
}

// Directory resolves device keys to their owners for the whois command.
type Directory interface {
	UsernameByPublicKey(ctx context.Context, publicKey []byte) (string, error)
}

// Config holds the connection level settings.
type Config struct {
	Address          string
	ChunkSize        protocol.ChunkSize
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	KeepAlive        time.Duration
}

// Server is the relay listener.
type Server struct {
	cfg      Config
	identity *tlsx.Identity
	key      *cryptox.KeyPair
	auth     *auth.Authenticator
	registry *sessions.Registry
	dir      Directory
	log      logging.Logger
	obs      Observer

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer wires a relay. obs may be nil.
func NewServer(cfg Config, identity *tlsx.Identity, key *cryptox.KeyPair, authn *auth.Authenticator,
	registry *sessions.Registry, dir Directory, log logging.Logger, obs Observer) *Server {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 3 * time.Minute
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Server{
		cfg:      cfg,
		identity: identity,
		key:      key,
		auth:     authn,
		registry: registry,
		dir:      dir,
		log:      log.With("module", "relay"),
		obs:      obs,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln, one goroutine each. On cancellation
// it closes ln and every open connection, then waits for their goroutines.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info(ctx, "Starting relay", "address", ln.Addr().String())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.log.Info(ctx, "Stopping relay...")
		case <-stop:
		}
		_ = ln.Close()
		s.closeAll()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			closed := ctx.Err() != nil || errors.Is(err, net.ErrClosed)
			var ne net.Error
			if !closed && errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			_ = ln.Close()
			s.closeAll()
			s.wg.Wait()
			if closed {
				return nil
			}
			return err
		}

		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetKeepAlive(true)
			_ = tc.SetKeepAlivePeriod(s.cfg.KeepAlive)
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) track(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c] = struct{}{}
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

// handle owns one connection from accept to close.
func (s *Server) handle(ctx context.Context, raw net.Conn) {
	defer raw.Close()

	log := s.log.With("remote", raw.RemoteAddr().String())
	s.obs.ConnectionAccepted()
	log.Debug(ctx, "accepted connection")

	tc, err := s.secure(ctx, raw)
	if err != nil {
		log.Warn(ctx, "handshake failed", "error", err)
		return
	}

	sender := protocol.NewSender(tc, s.cfg.ChunkSize, s.cfg.WriteTimeout)
	recv := protocol.NewReceiver(tc, s.key, protocol.ReceiverOptions{
		ChunkSize:   s.cfg.ChunkSize,
		ReadTimeout: s.cfg.ReadTimeout,
		Stamp:       true,
	})

	if err := sender.SendBlock(s.key.PublicBytes()); err != nil {
		log.Warn(ctx, "sending relay key failed", "error", err)
		return
	}

	sess, err := s.auth.Run(ctx, sender, recv, log)
	if err != nil {
		log.Info(ctx, "connection closed before login", "error", err)
		return
	}

	s.obs.SessionOpened()
	defer func() {
		s.registry.Remove(sess)
		s.obs.SessionClosed()
	}()

	log = log.With("user", sess.Username)
	log.Info(ctx, "session started", "device", sess.DeviceID)

	err = s.serveSession(ctx, sess, recv, log)
	log.Info(ctx, "session ended", "reason", err)
}

// secure sends the certificate in clear for pinning and runs the TLS
// handshake, both under the handshake timeout.
func (s *Server) secure(ctx context.Context, raw net.Conn) (*tls.Conn, error) {
	_ = raw.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	defer func() { _ = raw.SetDeadline(time.Time{}) }()

	if err := tlsx.SendCertificate(raw, s.identity.Raw); err != nil {
		return nil, err
	}

	tc := tls.Server(raw, s.identity.ServerConfig())
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	if err := tc.HandshakeContext(hctx); err != nil {
		return nil, err
	}
	return tc, nil
}

type nopObserver struct{}

func (nopObserver) AuthOutcome(string)  {}
func (nopObserver) ConnectionAccepted() {}
func (nopObserver) SessionOpened()      {}
func (nopObserver) SessionClosed()      {}
func (nopObserver) Relayed(string)      {}
func (nopObserver) FanoutFailed()       {}
