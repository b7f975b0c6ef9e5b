// Package models defines the relay's persisted records.
package models

import "time"

// User is a registered account. Verifier is the password-derived key; the
// password itself never reaches the relay.
type User struct {
	ID         string
	UserName   string
	Verifier   []byte
	Salt       []byte
	TOTPSecret string
	CreatedAt  time.Time
}

// DeviceKey binds a device's public key to a user.
type DeviceKey struct {
	UserID    string
	DeviceID  string
	PublicKey []byte
}
