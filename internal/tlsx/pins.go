package tlsx

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/chatrelay/internal/filex"
)

// PinStore keeps one pinned certificate per server address, each in its
// own file.
type PinStore struct {
	dir string
}

// NewPinStore creates the pin directory if needed.
func NewPinStore(dir string) (*PinStore, error) {
	d, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &PinStore{dir: d}, nil
}

// Verify pins raw for addr on first contact and byte-compares it with the
// pinned certificate afterwards. firstUse reports whether a new pin was
// written.
func (p *PinStore) Verify(addr string, raw []byte) (firstUse bool, err error) {
	path := p.path(addr)

	pinned, ok, err := filex.ReadIfExists(path)
	if err != nil {
		return false, err
	}
	if !ok {
		if err := filex.WriteFileAtomic(path, raw, 0o600); err != nil {
			return false, fmt.Errorf("pin certificate: %w", err)
		}
		return true, nil
	}

	if !bytes.Equal(pinned, raw) {
		return false, fmt.Errorf("%w: %s", ErrCertificateMismatch, addr)
	}
	return false, nil
}

// Forget removes the pin for addr.
func (p *PinStore) Forget(addr string) error {
	if err := os.Remove(p.path(addr)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("forget pin: %w", err)
	}
	return nil
}

var pinNameReplacer = strings.NewReplacer(":", "_", "/", "_", "\\", "_", "[", "", "]", "")

func (p *PinStore) path(addr string) string {
	return filepath.Join(p.dir, pinNameReplacer.Replace(addr)+".der")
}
