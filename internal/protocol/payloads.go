package protocol

import (
	"fmt"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/fxamacker/cbor/v2"
)

// Identity opens every login attempt. It travels in clear.
type Identity struct {
	Username string `cbor:"username"`
	DeviceID string `cbor:"device_id"`
}

// Challenge is sealed for the key in play during login.
type Challenge struct {
	Salt      []byte `cbor:"salt"`
	Challenge []byte `cbor:"challenge"`
}

// Invite gates registration.
type Invite struct {
	Token   string `cbor:"token"`
	Sponsor string `cbor:"sponsor"`
}

// Registration carries the material of a new account. It is sealed for the
// relay.
type Registration struct {
	Username   string `cbor:"username"`
	Verifier   []byte `cbor:"verifier"`
	Salt       []byte `cbor:"salt"`
	TOTPSecret string `cbor:"totp_secret"`
	DeviceID   string `cbor:"device_id"`
	PublicKey  []byte `cbor:"public_key"`
}

// Command is the plaintext of a control message.
type Command struct {
	Name string   `cbor:"name"`
	Args [][]byte `cbor:"args,omitempty"`
}

// CommandReply is the plaintext the relay returns for a Command.
type CommandReply struct {
	Name  string `cbor:"name"`
	OK    bool   `cbor:"ok"`
	Value string `cbor:"value,omitempty"`
	Error string `cbor:"error,omitempty"`
}

// Encode marshals a payload.
func Encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

// Decode unmarshals a payload; any decoding problem is structural.
func Decode(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", common.ErrStructural, err)
	}
	return nil
}
