// Package models defines client-side data models.
package models

// DeviceKey is this device's keypair for one account. Only the private half
// is stored; the public key is derived from it.
type DeviceKey struct {
	Username   string
	DeviceID   string
	PrivateKey []byte
}
