package cli

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/client/client"
	"github.com/dmitrijs2005/chatrelay/internal/filex"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/google/uuid"
)

// conversationNamespace scopes name-based conversation ids.
var conversationNamespace = uuid.MustParse("8f0c2b4e-6a43-4c4e-9d3c-2f7e5b1a9c60")

// conversationID accepts a UUID or any name.
func conversationID(s string) uuid.UUID {
	if id, err := uuid.Parse(s); err == nil {
		return id
	}
	return uuid.NewSHA1(conversationNamespace, []byte(s))
}

func fingerprint(key *[32]byte) string {
	return hex.EncodeToString(key[:4])
}

// session returns the connection of a logged in user.
func (a *App) session() (chatClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loggedIn {
		return nil, client.ErrNotLoggedIn
	}
	return a.client, nil
}

func (a *App) Send(_ context.Context, conv, text string) error {
	c, err := a.session()
	if err != nil {
		return err
	}
	return c.Send(conversationID(conv), text)
}

func (a *App) SendFile(_ context.Context, conv, path string) error {
	c, err := a.session()
	if err != nil {
		return err
	}
	if err := c.SendFile(conversationID(conv), path); err != nil {
		return err
	}
	printlnFn("Sent", filepath.Base(path))
	return nil
}

// Invite prints the invite that lets one more person register.
func (a *App) Invite(ctx context.Context) error {
	c, err := a.session()
	if err != nil {
		return err
	}
	inv, err := c.Invite(ctx)
	if err != nil {
		return err
	}
	printlnFn("Invite token:", inv.Token)
	printlnFn("Sponsor:", inv.Sponsor)
	return nil
}

// Whois names the owner of a sender key. key may be a fingerprint shown
// next to a received message, a full hex key, or empty for the most recent
// sender.
func (a *App) Whois(ctx context.Context, key string) error {
	c, err := a.session()
	if err != nil {
		return err
	}
	pub, err := a.lookupSender(key)
	if err != nil {
		return err
	}
	name, err := c.Whois(ctx, pub)
	if err != nil {
		return err
	}
	printlnFn(fingerprint(pub), "is", name)
	return nil
}

func (a *App) lookupSender(key string) (*[32]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if key == "" {
		if a.lastSender == nil {
			return nil, fmt.Errorf("no messages received yet")
		}
		return a.lastSender, nil
	}
	if pub, ok := a.senders[key]; ok {
		return pub, nil
	}
	raw, err := hex.DecodeString(key)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("unknown sender %q", key)
	}
	pub := new([32]byte)
	copy(pub[:], raw)
	return pub, nil
}

// receive prints incoming messages until the connection ends.
func (a *App) receive(ctx context.Context, c chatClient) {
	err := c.Run(ctx, a.render)

	a.mu.Lock()
	current := a.client == c
	if current {
		a.client = nil
		a.loggedIn = false
	}
	a.mu.Unlock()

	if current {
		_ = c.Close()
		a.logger.Debug(ctx, "receiver stopped", "error", err)
		printlnFn("Disconnected from relay:", err)
	}
}

// render prints one incoming message. Attachments are saved to the
// downloads directory.
func (a *App) render(m *client.Incoming) {
	fp := fingerprint(m.SenderKey)

	a.mu.Lock()
	a.lastSender = m.SenderKey
	if a.senders == nil {
		a.senders = map[string]*[32]byte{}
	}
	a.senders[fp] = m.SenderKey
	a.mu.Unlock()

	at := m.Header.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	prefix := fmt.Sprintf("[%s %s] %s:", at.Local().Format("15:04:05"), m.Header.ConversationID.String()[:8], fp)

	switch b := m.Header.Body.(type) {
	case protocol.TextMsg:
		printlnFn(prefix, string(m.Plaintext))
	case protocol.FileMsg:
		a.renderFile(prefix, m.Header.Type(), b.DownloadID, b.Basename, m.Plaintext)
	case protocol.MediaMsg:
		a.renderFile(prefix, m.Header.Type(), b.DownloadID, b.Basename, m.Plaintext)
	default:
		printlnFn(prefix, "message of unsupported type", m.Header.Type())
	}
}

func (a *App) renderFile(prefix string, t protocol.MessageType, id uuid.UUID, basename string, data []byte) {
	path := filepath.Join(a.downloads, id.String()+"-"+filepath.Base(basename))
	if err := filex.WriteFileAtomic(path, data, 0o600); err != nil {
		a.logger.Error(context.Background(), "saving attachment", "error", err)
		printlnFn(prefix, t, basename, "(could not save)")
		return
	}
	printlnFn(prefix, t, basename, "saved to", path)
}
