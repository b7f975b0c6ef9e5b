package relay

import (
	"path/filepath"

	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/dmitrijs2005/chatrelay/internal/filex"
)

const boxKeyFile = "relay.box"

// LoadOrCreateKey returns the relay's long-term key from dir, creating it on
// first start. Changing it locks out every header sealed for the old key,
// so it is never rotated implicitly.
func LoadOrCreateKey(dir string) (*cryptox.KeyPair, error) {
	path := filepath.Join(dir, boxKeyFile)

	raw, ok, err := filex.ReadIfExists(path)
	if err != nil {
		return nil, err
	}
	if ok {
		return cryptox.KeyPairFromPrivate(raw)
	}

	kp, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := filex.WriteFileAtomic(path, kp.PrivateBytes(), 0o600); err != nil {
		return nil, err
	}
	return kp, nil
}
