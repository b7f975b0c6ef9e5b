package client

import (
	"context"
	"crypto/tls"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/client/repositories/devicekeys"
	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/tlsx"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay performs only the connection preamble: certificate, TLS and
// the relay public key.
func fakeRelay(t *testing.T, id *tlsx.Identity, relay *cryptox.KeyPair) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				if err := tlsx.SendCertificate(conn, id.Raw); err != nil {
					return
				}
				tc := tls.Server(conn, id.ServerConfig())
				if err := tc.Handshake(); err != nil {
					return
				}
				_ = protocol.NewSender(tc, 0, 0).SendBlock(relay.PublicBytes())
				// Hold the connection until the client goes away.
				_, _ = tc.Read(make([]byte, 1))
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func newKeys(t *testing.T) devicekeys.Repository {
	t.Helper()
	db, err := InitDatabase(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return devicekeys.NewSQLiteRepository(db)
}

func TestDial_PinsOnFirstUse(t *testing.T) {
	id, err := tlsx.LoadOrCreate(t.TempDir())
	require.NoError(t, err)
	relay, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)
	addr := fakeRelay(t, id, relay)

	pins, err := tlsx.NewPinStore(t.TempDir())
	require.NoError(t, err)
	keys := newKeys(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr, pins, keys, Options{})
	require.NoError(t, err)
	assert.True(t, c.FirstUse)
	assert.Equal(t, relay.Public, c.RelayKey())
	require.NoError(t, c.Close())

	c, err = Dial(ctx, addr, pins, keys, Options{})
	require.NoError(t, err)
	assert.False(t, c.FirstUse)
	require.NoError(t, c.Close())
}

func TestDial_RefusesChangedCertificate(t *testing.T) {
	relay, err := cryptox.GenerateKeyPair()
	require.NoError(t, err)

	first, err := tlsx.LoadOrCreate(t.TempDir())
	require.NoError(t, err)
	other, err := tlsx.LoadOrCreate(t.TempDir())
	require.NoError(t, err)

	addr := fakeRelay(t, other, relay)

	pins, err := tlsx.NewPinStore(t.TempDir())
	require.NoError(t, err)
	_, err = pins.Verify(addr, first.Raw)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = Dial(ctx, addr, pins, newKeys(t), Options{})
	assert.ErrorIs(t, err, tlsx.ErrCertificateMismatch)
}

func TestDial_Unavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	pins, err := tlsx.NewPinStore(t.TempDir())
	require.NoError(t, err)

	_, err = Dial(context.Background(), addr, pins, newKeys(t), Options{DialTimeout: time.Second})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_RequiresLogin(t *testing.T) {
	c := &Client{}
	assert.ErrorIs(t, c.Send(uuid.New(), "hi"), ErrNotLoggedIn)
	assert.ErrorIs(t, c.Run(context.Background(), func(*Incoming) {}), ErrNotLoggedIn)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path    string
		want    protocol.MessageType
		preview bool
	}{
		{path: "/tmp/cat.PNG", want: protocol.TypeImage, preview: true},
		{path: "party.gif", want: protocol.TypeImage, preview: true},
		{path: "clip.mp4", want: protocol.TypeVideo},
		{path: "notes.txt", want: protocol.TypeDocument},
		{path: "Makefile", want: protocol.TypeDocument},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			body := Classify(tt.path)
			assert.Equal(t, tt.want, body.Type())

			switch m := body.(type) {
			case protocol.MediaMsg:
				assert.Equal(t, filepath.Base(tt.path), m.Basename)
				assert.Equal(t, tt.preview, m.Preview)
				assert.NotEqual(t, uuid.Nil, m.DownloadID)
			case protocol.FileMsg:
				assert.Equal(t, filepath.Base(tt.path), m.Basename)
				assert.NotEqual(t, uuid.Nil, m.DownloadID)
			default:
				t.Fatalf("unexpected body %T", body)
			}
		})
	}
}

func TestDeviceID(t *testing.T) {
	a := DeviceID("alice")
	assert.Len(t, a, 64)
	assert.Equal(t, a, DeviceID("alice"))
	assert.NotEqual(t, a, DeviceID("bob"))
}

func TestDeviceKey_FreshUntilStored(t *testing.T) {
	ctx := context.Background()
	c := &Client{keys: newKeys(t)}

	stored, kp, fresh, err := c.deviceKey(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, DeviceID("alice"), stored.DeviceID)

	require.NoError(t, c.keys.Put(ctx, stored))

	_, again, fresh, err := c.deviceKey(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Equal(t, kp.Public, again.Public)
}
