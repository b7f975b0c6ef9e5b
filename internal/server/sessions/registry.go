// Package sessions keeps the relay's only cross-connection state: the table
// of authenticated sessions and the invite tokens handed out to them.
package sessions

import (
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
)

// Session is one authenticated connection.
type Session struct {
	Username  string
	DeviceID  string
	PublicKey *[32]byte
	Sender    *protocol.Sender

	// published is guarded by the registry lock.
	published bool
}

// Registry is safe for concurrent use by all connection goroutines.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	// tokens maps sponsor username to its current invite token.
	tokens map[string]string
	// redeeming holds sponsors whose token is being spent by a signup.
	redeeming map[string]bool
	newToken  func() string
}

// mintToken returns 32 random bytes, hex-encoded.
func mintToken() string {
	t, err := common.MakeRandHexString(32)
	if err != nil {
		panic(err)
	}
	return t
}

// NewRegistry creates an empty registry and mints the bootstrap token for
// the admin sponsor.
func NewRegistry() *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		tokens:    make(map[string]string),
		redeeming: make(map[string]bool),
		newToken:  mintToken,
	}
	r.tokens[common.AdminSponsor] = r.newToken()
	return r
}

// BootstrapToken returns the current admin invite token.
func (r *Registry) BootstrapToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[common.AdminSponsor]
}

// Add registers and publishes s in one step.
func (r *Registry) Add(s *Session) error {
	if err := r.Reserve(s); err != nil {
		return err
	}
	r.Publish(s)
	return nil
}

// Reserve claims the username of s. It fails with common.ErrorAlreadyExists
// when the username already has a session. A reserved session counts as
// active but is left out of Snapshot until Publish.
func (r *Registry) Reserve(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.Username]; ok {
		return fmt.Errorf("session %s: %w", s.Username, common.ErrorAlreadyExists)
	}
	s.published = false
	r.sessions[s.Username] = s
	if _, ok := r.tokens[s.Username]; !ok {
		r.tokens[s.Username] = r.newToken()
	}
	return nil
}

// Publish makes a reserved session visible to Snapshot. It is a no-op when
// s was removed meanwhile.
func (r *Registry) Publish(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.Username]; ok && cur == s {
		s.published = true
	}
}

// Remove drops s and invalidates its invite token. It is a no-op when the
// username is now held by a different session.
func (r *Registry) Remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[s.Username]; ok && cur == s {
		delete(r.sessions, s.Username)
		delete(r.tokens, s.Username)
	}
}

// Active reports whether username has a live session.
func (r *Registry) Active(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[username]
	return ok
}

// Get returns the live session of username.
func (r *Registry) Get(username string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[username]
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns every published session except exclude. The slice is a copy:
// sessions that disconnect afterwards stay in it, and sends to them simply
// fail.
func (r *Registry) Snapshot(exclude *Session) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s != exclude && s.published {
			out = append(out, s)
		}
	}
	return out
}

// Token returns the invite token currently held by sponsor.
func (r *Registry) Token(sponsor string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[sponsor]
	return t, ok
}

// ValidInvite reports whether token is the current token of sponsor.
func (r *Registry) ValidInvite(sponsor, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validLocked(sponsor, token)
}

func (r *Registry) validLocked(sponsor, token string) bool {
	cur, ok := r.tokens[sponsor]
	if !ok || token == "" || r.redeeming[sponsor] {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cur), []byte(token)) == 1
}

// ConsumeInvite spends token of sponsor on one call to create. The token
// is held while create runs, so a concurrent redemption is rejected, and it
// rotates only if create succeeds. The lock is not held during create. An
// invalid token yields common.ErrAuthRejected without calling create.
func (r *Registry) ConsumeInvite(sponsor, token string, create func() error) error {
	r.mu.Lock()
	if !r.validLocked(sponsor, token) {
		r.mu.Unlock()
		return common.ErrAuthRejected
	}
	r.redeeming[sponsor] = true
	r.mu.Unlock()

	err := create()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.redeeming, sponsor)
	if err != nil {
		return err
	}
	// A sponsor that disconnected meanwhile has no token left to rotate.
	if _, ok := r.tokens[sponsor]; ok {
		r.tokens[sponsor] = r.newToken()
	}
	return nil
}
