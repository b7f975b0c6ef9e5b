// Package cryptox holds the cryptographic envelope used by the relay and its
// clients: password-based key derivation, authenticated symmetric
// encryption, and per-recipient wrapping of symmetric keys.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of every symmetric key (AES-256).
	KeySize = 32
	// PublicKeySize is the size of a raw Curve25519 public key.
	PublicKeySize = 32
	// WrappedKeySize is the size of a symmetric key sealed for one recipient.
	WrappedKeySize = KeySize + box.AnonymousOverhead
	// KDFIterations is the PBKDF2 work factor.
	KDFIterations = 1_000_000

	nonceSize = 12
	tagSize   = 16
)

// DeriveKey derives a 32-byte key from password and salt with
// PBKDF2-HMAC-SHA256. The result doubles as the stored password verifier.
func DeriveKey(password, salt []byte) []byte {
	return pbkdf2.Key(password, salt, KDFIterations, KeySize, sha256.New)
}

// NewKey returns a fresh random symmetric key.
func NewKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}

// SymEncrypt seals plaintext with AES-256-GCM. When key is nil a fresh
// random key is generated. The returned ciphertext is self-contained:
//
//	nonce(12) || sealed data || tag(16)
func SymEncrypt(plaintext, key []byte) (ciphertext, usedKey []byte, err error) {
	if key == nil {
		key = NewKey()
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce := common.GenerateRandByteArray(nonceSize)
	ciphertext = aesgcm.Seal(nonce, nonce, plaintext, nil)

	return ciphertext, key, nil
}

// SymDecrypt opens a ciphertext produced by SymEncrypt. A wrong key, a
// truncated input or any flipped bit yields common.ErrIntegrity.
func SymDecrypt(ciphertext, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < nonceSize+tagSize {
		return nil, common.ErrIntegrity
	}

	plaintext, err := aesgcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, common.ErrIntegrity
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %w", err)
	}
	return cipher.NewGCM(block)
}

// KeyPair is a Curve25519 keypair bound to one device (or to the relay).
type KeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

// GenerateKeyPair creates a new random keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromPrivate rebuilds a keypair from a stored 32-byte private key.
func KeyPairFromPrivate(private []byte) (*KeyPair, error) {
	if len(private) != KeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", KeySize, len(private))
	}
	priv := new([32]byte)
	copy(priv[:], private)

	raw, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	pub := new([32]byte)
	copy(pub[:], raw)

	return &KeyPair{Public: pub, Private: priv}, nil
}

// PublicBytes returns the raw public key.
func (k *KeyPair) PublicBytes() []byte {
	return append([]byte(nil), k.Public[:]...)
}

// PrivateBytes returns the raw private key. Callers should wipe the copy.
func (k *KeyPair) PrivateBytes() []byte {
	return append([]byte(nil), k.Private[:]...)
}

// ImportPublicKey validates a raw public key received from the wire.
func ImportPublicKey(raw []byte) (*[32]byte, error) {
	if len(raw) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d", common.ErrStructural, PublicKeySize, len(raw))
	}
	pub := new([32]byte)
	copy(pub[:], raw)
	return pub, nil
}

// WrapKey seals a symmetric key for the holder of recipient's private key.
func WrapKey(symKey []byte, recipient *[32]byte) ([]byte, error) {
	return box.SealAnonymous(nil, symKey, recipient, rand.Reader)
}

// UnwrapKey is the inverse of WrapKey.
func (k *KeyPair) UnwrapKey(wrapped []byte) ([]byte, error) {
	symKey, ok := box.OpenAnonymous(nil, wrapped, k.Public, k.Private)
	if !ok {
		return nil, common.ErrIntegrity
	}
	return symKey, nil
}

// Seal encrypts a short value (a header tag) directly into a sealed box for
// the recipient.
func Seal(data []byte, recipient *[32]byte) ([]byte, error) {
	return box.SealAnonymous(nil, data, recipient, rand.Reader)
}

// Open is the inverse of Seal.
func (k *KeyPair) Open(sealed []byte) ([]byte, error) {
	data, ok := box.OpenAnonymous(nil, sealed, k.Public, k.Private)
	if !ok {
		return nil, common.ErrIntegrity
	}
	return data, nil
}

// OTPKey turns a one-time code into a symmetric key by left-padding it with
// ASCII zeros to KeySize bytes.
func OTPKey(code string) ([]byte, error) {
	if len(code) == 0 || len(code) > KeySize {
		return nil, fmt.Errorf("%w: bad one-time code length %d", common.ErrorValidation, len(code))
	}
	key := make([]byte, KeySize)
	pad := KeySize - len(code)
	for i := 0; i < pad; i++ {
		key[i] = '0'
	}
	copy(key[pad:], code)
	return key, nil
}

// SealOTP proves knowledge of code by encrypting it under OTPKey(code).
func SealOTP(code string) ([]byte, error) {
	key, err := OTPKey(code)
	if err != nil {
		return nil, err
	}
	ct, _, err := SymEncrypt([]byte(code), key)
	return ct, err
}
