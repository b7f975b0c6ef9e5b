package protocol

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Message is one decoded message: the header opened with the receiver's
// key and the still-sealed envelope.
type Message struct {
	Header   *Header
	Envelope *cryptox.Envelope
}

// Open decrypts the payload.
func (m *Message) Open(kp *cryptox.KeyPair) ([]byte, error) {
	return m.Envelope.Open(kp)
}

// ReceiverOptions tune a Receiver.
type ReceiverOptions struct {
	// ChunkSize determines the largest accepted block, see MaxBlockSize.
	ChunkSize ChunkSize
	// ReadTimeout bounds every block except the first block of a message,
	// which may arrive after an arbitrarily long idle period.
	ReadTimeout time.Duration
	// Stamp makes the receiver append a timestamp tag sealed for its own
	// key to every message, as the relay does on receipt.
	Stamp bool
	// Now is used for stamping. Defaults to time.Now.
	Now func() time.Time
}

// Receiver reads blocks and whole messages from one peer. It is not safe
// for concurrent use.
type Receiver struct {
	r    *bufio.Reader
	dl   readDeadliner
	kp   *cryptox.KeyPair
	opts ReceiverOptions
	max  int
}

// NewReceiver wraps r. Header tags are opened with kp.
func NewReceiver(r io.Reader, kp *cryptox.KeyPair, opts ReceiverOptions) *Receiver {
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rc := &Receiver{
		r:    bufio.NewReaderSize(r, 64<<10),
		kp:   kp,
		opts: opts,
		max:  MaxBlockSize(opts.ChunkSize),
	}
	if dl, ok := r.(readDeadliner); ok {
		rc.dl = dl
	}
	return rc
}

// SetKeyPair replaces the key used to open header tags. Clients learn
// their key only after the auth dialogue has started.
func (rc *Receiver) SetKeyPair(kp *cryptox.KeyPair) {
	rc.kp = kp
}

// ReceiveBlock reads one block under the read timeout.
func (rc *Receiver) ReceiveBlock() ([]byte, error) {
	return rc.read(true)
}

// ReceiveString is ReceiveBlock for status literals.
func (rc *Receiver) ReceiveString() (string, error) {
	b, err := rc.ReceiveBlock()
	return string(b), err
}

// ReceiveMessage reads one full message. The first block waits without a
// deadline; the rest of the message must keep flowing.
func (rc *Receiver) ReceiveMessage() (*Message, error) {
	tags, payload, err := rc.receiveRaw()
	if err != nil {
		return nil, err
	}

	if rc.opts.Stamp {
		ts, err := TimestampTag(rc.opts.Now(), rc.kp.Public)
		if err != nil {
			return nil, err
		}
		tags = append(tags, ts)
	}

	h, err := ParseHeader(tags, rc.kp)
	if err != nil {
		return nil, err
	}
	if int(h.Length) != len(payload) {
		return nil, fmt.Errorf("%w: declared length %d, got %d", common.ErrStructural, h.Length, len(payload))
	}

	env, err := cryptox.UnpackEnvelope(payload)
	if err != nil {
		return nil, err
	}

	return &Message{Header: h, Envelope: env}, nil
}

func (rc *Receiver) receiveRaw() ([][]byte, []byte, error) {
	var tags [][]byte
	first := true
	for {
		b, err := rc.read(!first)
		if err != nil {
			if !first && err == io.EOF {
				err = common.ErrBrokenStream
			}
			return nil, nil, err
		}
		first = false
		if IsMarker(b, Delimiter) {
			break
		}
		if IsMarker(b, Terminator) {
			return nil, nil, fmt.Errorf("%w: terminator before delimiter", common.ErrStructural)
		}
		tags = append(tags, b)
		if len(tags) > 16 {
			return nil, nil, fmt.Errorf("%w: too many header tags", common.ErrStructural)
		}
	}

	var payload []byte
	for {
		b, err := rc.read(true)
		if err != nil {
			if err == io.EOF {
				err = common.ErrBrokenStream
			}
			return nil, nil, err
		}
		if IsMarker(b, Terminator) {
			break
		}
		if IsMarker(b, Delimiter) {
			return nil, nil, fmt.Errorf("%w: delimiter inside payload", common.ErrStructural)
		}
		payload = append(payload, b...)
		if len(payload) > maxMessageSize {
			return nil, nil, fmt.Errorf("%w: message exceeds %d bytes", common.ErrStructural, maxMessageSize)
		}
	}
	if len(payload) == 0 {
		return nil, nil, fmt.Errorf("%w: empty payload", common.ErrStructural)
	}
	return tags, payload, nil
}

// maxMessageSize caps a reassembled payload; the header length field is a
// u32 but nothing legitimate comes close.
const maxMessageSize = 1 << 30

func (rc *Receiver) read(bounded bool) ([]byte, error) {
	if rc.dl != nil {
		var deadline time.Time
		if bounded && rc.opts.ReadTimeout > 0 {
			deadline = time.Now().Add(rc.opts.ReadTimeout)
		}
		_ = rc.dl.SetReadDeadline(deadline)
	}
	return ReadBlock(rc.r, rc.max)
}
