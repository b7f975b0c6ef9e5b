package cryptox

import (
	"encoding/binary"
	"fmt"

	"github.com/dmitrijs2005/chatrelay/internal/common"
)

// Envelope is one symmetrically encrypted payload together with its key
// wrapped for a single recipient and the sender's public key.
//
// Packed layout:
//
//	u32(len(ct)) || ct || u32(len(wk)) || wk || sender public key (32)
type Envelope struct {
	Ciphertext []byte
	WrappedKey []byte
	SenderKey  *[32]byte
}

// NewEnvelope encrypts plaintext under a fresh key and wraps that key for
// recipient. The symmetric key is returned so callers can re-wrap it.
func NewEnvelope(plaintext []byte, recipient, sender *[32]byte) (*Envelope, []byte, error) {
	ct, key, err := SymEncrypt(plaintext, nil)
	if err != nil {
		return nil, nil, err
	}
	wk, err := WrapKey(key, recipient)
	if err != nil {
		return nil, nil, err
	}
	return &Envelope{Ciphertext: ct, WrappedKey: wk, SenderKey: sender}, key, nil
}

// Rewrap returns a copy of e whose symmetric key is wrapped for recipient.
// The ciphertext slice is shared, never re-encrypted.
func (e *Envelope) Rewrap(symKey []byte, recipient *[32]byte) (*Envelope, error) {
	wk, err := WrapKey(symKey, recipient)
	if err != nil {
		return nil, err
	}
	return &Envelope{Ciphertext: e.Ciphertext, WrappedKey: wk, SenderKey: e.SenderKey}, nil
}

// Open unwraps the symmetric key with kp and decrypts the payload.
func (e *Envelope) Open(kp *KeyPair) ([]byte, error) {
	key, err := kp.UnwrapKey(e.WrappedKey)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)
	return SymDecrypt(e.Ciphertext, key)
}

// Pack serializes the envelope into a single block.
func (e *Envelope) Pack() []byte {
	out := make([]byte, 0, 8+len(e.Ciphertext)+len(e.WrappedKey)+PublicKeySize)
	out = binary.BigEndian.AppendUint32(out, uint32(len(e.Ciphertext)))
	out = append(out, e.Ciphertext...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(e.WrappedKey)))
	out = append(out, e.WrappedKey...)
	out = append(out, e.SenderKey[:]...)
	return out
}

// UnpackEnvelope splits a packed envelope. Any length that does not add up
// exactly is reported as common.ErrStructural.
func UnpackEnvelope(data []byte) (*Envelope, error) {
	ct, rest, err := splitPrefixed(data)
	if err != nil {
		return nil, fmt.Errorf("ciphertext: %w", err)
	}
	wk, rest, err := splitPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("wrapped key: %w", err)
	}
	sender, err := ImportPublicKey(rest)
	if err != nil {
		return nil, err
	}
	return &Envelope{Ciphertext: ct, WrappedKey: wk, SenderKey: sender}, nil
}

func splitPrefixed(data []byte) (field, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, common.ErrStructural
	}
	n := binary.BigEndian.Uint32(data)
	data = data[4:]
	if uint64(n) > uint64(len(data)) {
		return nil, nil, common.ErrStructural
	}
	return data[:n], data[n:], nil
}

// SealFor is the one-shot form used during authentication: it encrypts
// plaintext for recipient and returns the packed envelope.
func SealFor(plaintext []byte, recipient, sender *[32]byte) ([]byte, error) {
	env, key, err := NewEnvelope(plaintext, recipient, sender)
	if err != nil {
		return nil, err
	}
	common.WipeByteArray(key)
	return env.Pack(), nil
}

// OpenPacked unpacks and opens a packed envelope in one step.
func (k *KeyPair) OpenPacked(packed []byte) ([]byte, *[32]byte, error) {
	env, err := UnpackEnvelope(packed)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := env.Open(k)
	if err != nil {
		return nil, nil, err
	}
	return plaintext, env.SenderKey, nil
}
