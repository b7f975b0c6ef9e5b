package client

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/client/models"
	"github.com/dmitrijs2005/chatrelay/internal/client/repositories/devicekeys"
	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/tlsx"
	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Options configure Dial.
type Options struct {
	ChunkSize   protocol.ChunkSize
	DialTimeout time.Duration
	KeepAlive   time.Duration
	Logger      logging.Logger
}

// Incoming is one message relayed to this client.
type Incoming struct {
	Header    *protocol.Header
	Plaintext []byte
	// SenderKey is the public key of the device that wrote the message.
	SenderKey *[32]byte
}

// Client is one connection to a relay.
type Client struct {
	conn  net.Conn
	s     *protocol.Sender
	r     *protocol.Receiver
	relay *[32]byte
	keys  devicekeys.Repository
	log   logging.Logger

	// FirstUse is true when the relay certificate was pinned by this dial.
	FirstUse bool

	username string
	device   *cryptox.KeyPair

	cmdMu   sync.Mutex
	replies chan *protocol.CommandReply
}

// Dial connects to addr, checks the relay certificate against pins, runs
// the TLS handshake and reads the relay's public key.
func Dial(ctx context.Context, addr string, pins *tlsx.PinStore, keys devicekeys.Repository, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}

	d := net.Dialer{Timeout: opts.DialTimeout, KeepAlive: opts.KeepAlive}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	c, err := handshake(ctx, raw, addr, pins, keys, opts)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	return c, nil
}

func handshake(ctx context.Context, raw net.Conn, addr string, pins *tlsx.PinStore, keys devicekeys.Repository, opts Options) (*Client, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(dl)
		defer func() { _ = raw.SetDeadline(time.Time{}) }()
	}

	cert, err := tlsx.ReceiveCertificate(raw)
	if err != nil {
		return nil, err
	}
	firstUse, err := pins.Verify(addr, cert)
	if err != nil {
		return nil, err
	}

	tc := tls.Client(raw, tlsx.ClientConfig(cert))
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	s := protocol.NewSender(tc, opts.ChunkSize, 0)
	r := protocol.NewReceiver(tc, nil, protocol.ReceiverOptions{ChunkSize: opts.ChunkSize})

	pub, err := r.ReceiveBlock()
	if err != nil {
		return nil, err
	}
	relay, err := cryptox.ImportPublicKey(pub)
	if err != nil {
		return nil, err
	}

	return &Client{
		conn:     tc,
		s:        s,
		r:        r,
		relay:    relay,
		keys:     keys,
		log:      opts.Logger.With("relay", addr),
		FirstUse: firstUse,
		replies:  make(chan *protocol.CommandReply, 1),
	}, nil
}

// Close drops the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Username is the logged in user, or "".
func (c *Client) Username() string {
	return c.username
}

// RelayKey is the relay's long-term public key.
func (c *Client) RelayKey() *[32]byte {
	return c.relay
}

// DeviceID derives the identifier of this machine for username. The same
// host always yields the same id.
func DeviceID(username string) string {
	host, _ := os.Hostname()
	h := sha256.New()
	h.Write([]byte(runtime.GOOS))
	h.Write([]byte(host))
	h.Write([]byte(runtime.GOARCH))
	h.Write([]byte(username))
	return hex.EncodeToString(h.Sum(nil))
}

// deviceKey returns the stored keypair for username or a fresh one. A fresh
// key is not stored.
func (c *Client) deviceKey(ctx context.Context, username string) (*models.DeviceKey, *cryptox.KeyPair, bool, error) {
	k, err := c.keys.Get(ctx, username)
	if err == nil {
		kp, err := cryptox.KeyPairFromPrivate(k.PrivateKey)
		return k, kp, false, err
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, nil, false, err
	}

	kp, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, nil, false, err
	}
	return &models.DeviceKey{Username: username, DeviceID: DeviceID(username), PrivateKey: kp.PrivateBytes()}, kp, true, nil
}

// Login authenticates username. otpCode is asked for a code before every
// second factor attempt. On common.ErrAuthRejected the caller may retry.
func (c *Client) Login(ctx context.Context, username, password string, otpCode func(attempt int) (string, error)) error {
	if c.username != "" {
		return fmt.Errorf("already logged in as %s", c.username)
	}

	stored, kp, fresh, err := c.deviceKey(ctx, username)
	if err != nil {
		return err
	}

	err = LoginDialogue(c.s, c.r, Credentials{
		Username: username,
		Password: password,
		DeviceID: stored.DeviceID,
		Device:   kp,
		OTP:      otpCode,
	})
	if err != nil {
		return err
	}

	if fresh {
		if err := c.keys.Put(ctx, stored); err != nil {
			return err
		}
	}

	c.username = username
	c.device = kp
	c.r.SetKeyPair(kp)
	c.log.Info(ctx, "logged in", "user", username)
	return nil
}

// Register creates an account with a fresh device key and second factor
// secret. The returned key must be shown to the user so they can enrol it
// in an authenticator app.
func (c *Client) Register(ctx context.Context, inv protocol.Invite, username, password string) (*otp.Key, error) {
	secret, err := totp.Generate(totp.GenerateOpts{
		Issuer:      common.AppName,
		AccountName: username,
	})
	if err != nil {
		return nil, err
	}

	kp, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	deviceID := DeviceID(username)

	err = RegisterDialogue(c.s, c.r, c.relay, inv, Enrolment{
		Username:   username,
		Password:   password,
		DeviceID:   deviceID,
		Device:     kp,
		TOTPSecret: secret.Secret(),
	})
	if err != nil {
		return nil, err
	}

	if err := c.keys.Put(ctx, &models.DeviceKey{Username: username, DeviceID: deviceID, PrivateKey: kp.PrivateBytes()}); err != nil {
		return nil, err
	}
	c.log.Info(ctx, "registered", "user", username)
	return secret, nil
}

func (c *Client) send(body protocol.Body, conv uuid.UUID, plaintext []byte) error {
	if c.device == nil {
		return ErrNotLoggedIn
	}
	env, key, err := cryptox.NewEnvelope(plaintext, c.relay, c.device.Public)
	if err != nil {
		return err
	}
	common.WipeByteArray(key)
	return c.s.SendMessage(&protocol.Header{ConversationID: conv, Body: body}, env, c.relay)
}

// Send relays a text message to everyone else online.
func (c *Client) Send(conv uuid.UUID, text string) error {
	return c.send(protocol.TextMsg{}, conv, []byte(text))
}

// SendFile relays the content of path. The message type follows the file
// extension, see Classify.
func (c *Client) SendFile(conv uuid.UUID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return c.send(Classify(path), conv, data)
}

var (
	imageExt = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true}
	videoExt = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true}
)

// Classify picks the message body for a file.
func Classify(path string) protocol.Body {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	switch {
	case imageExt[ext]:
		return protocol.MediaMsg{Kind: protocol.TypeImage, Basename: base, DownloadID: uuid.New(), Preview: true}
	case videoExt[ext]:
		return protocol.MediaMsg{Kind: protocol.TypeVideo, Basename: base, DownloadID: uuid.New()}
	}
	return protocol.FileMsg{Basename: base, DownloadID: uuid.New()}
}

// Command sends a control command and waits for its reply. Run must be
// active, it is the one reading replies off the connection.
func (c *Client) Command(ctx context.Context, name string, args ...[]byte) (*protocol.CommandReply, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	payload, err := protocol.Encode(protocol.Command{Name: name, Args: args})
	if err != nil {
		return nil, err
	}
	if err := c.send(protocol.ControlMsg{}, uuid.Nil, payload); err != nil {
		return nil, err
	}

	select {
	case reply := <-c.replies:
		if !reply.OK {
			return reply, fmt.Errorf("%s: %s", name, reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invite asks the relay for this user's invite token.
func (c *Client) Invite(ctx context.Context) (protocol.Invite, error) {
	reply, err := c.Command(ctx, "code")
	if err != nil {
		return protocol.Invite{}, err
	}
	return protocol.Invite{Token: reply.Value, Sponsor: c.username}, nil
}

// Whois resolves a device public key to its owner.
func (c *Client) Whois(ctx context.Context, pub *[32]byte) (string, error) {
	reply, err := c.Command(ctx, "whois", pub[:])
	if err != nil {
		return "", err
	}
	return reply.Value, nil
}

// Run reads relayed messages until the connection ends and hands each one
// to handle. Command replies are routed to the waiting Command call.
func (c *Client) Run(ctx context.Context, handle func(*Incoming)) error {
	if c.device == nil {
		return ErrNotLoggedIn
	}

	for {
		msg, err := c.r.ReceiveMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		plaintext, err := msg.Open(c.device)
		if err != nil {
			c.log.Warn(ctx, "dropping message", "error", err)
			continue
		}

		if msg.Header.Type() == protocol.TypeControl {
			var reply protocol.CommandReply
			if err := protocol.Decode(plaintext, &reply); err != nil {
				c.log.Warn(ctx, "bad command reply", "error", err)
				continue
			}
			select {
			case c.replies <- &reply:
			default:
				c.log.Warn(ctx, "unsolicited command reply", "name", reply.Name)
			}
			continue
		}

		handle(&Incoming{Header: msg.Header, Plaintext: plaintext, SenderKey: msg.Envelope.SenderKey})
	}
}
