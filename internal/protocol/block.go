// Package protocol implements the relay wire format: length-prefixed
// blocks, typed header tags, chunked envelope payloads and the status
// literals exchanged during authentication.
//
// A message on the wire is
//
//	tag block*  "<!DATA>"  payload chunk+  "MSGEND"
//
// where every element is one block: a 4-byte big-endian length followed by
// that many bytes. Chunk size is a local knob and never appears on the wire.
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/chatrelay/internal/common"
)

// Marker blocks.
var (
	Delimiter  = []byte("<!DATA>")
	Terminator = []byte("MSGEND")
)

// ChunkSize bounds a single payload chunk.
type ChunkSize int

const (
	ChunkK64  ChunkSize = 64 << 10
	ChunkK256 ChunkSize = 256 << 10
	ChunkK512 ChunkSize = 512 << 10
	ChunkM1   ChunkSize = 1 << 20

	// DefaultChunkSize is used when a caller passes zero.
	DefaultChunkSize = ChunkK256

	// minTail is the smallest payload chunk a sender ever emits, so chunks
	// can never collide with the marker blocks.
	minTail = 16

	maxBlockFloor = 1 << 20
	blockSlack    = 64 << 10
)

// Valid reports whether c lies in the supported 64 KiB to 1 MiB range.
func (c ChunkSize) Valid() bool {
	return c >= ChunkK64 && c <= ChunkM1
}

// MaxBlockSize is the largest block a receiver accepts. It is derived from
// the local chunk size but never drops below 1 MiB, so peers configured
// with a larger chunk size stay interoperable.
func MaxBlockSize(c ChunkSize) int {
	m := int(c) + blockSlack
	if m < maxBlockFloor {
		m = maxBlockFloor
	}
	return m
}

// WriteBlock writes one length-prefixed block.
func WriteBlock(w io.Writer, data []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}

// ReadBlock reads one block, looping on partial reads until the declared
// length is satisfied. A clean EOF before the prefix is returned as io.EOF;
// a peer that vanishes mid-block yields common.ErrBrokenStream; a declared
// length above maxLen yields common.ErrStructural.
func ReadBlock(r io.Reader, maxLen int) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, brokenStream(err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if uint64(n) > uint64(maxLen) {
		return nil, fmt.Errorf("%w: block of %d bytes exceeds limit %d", common.ErrStructural, n, maxLen)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, brokenStream(err)
	}
	return data, nil
}

func brokenStream(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return common.ErrBrokenStream
	}
	return fmt.Errorf("%w: %v", common.ErrBrokenStream, err)
}

// IsMarker reports whether block is the given marker.
func IsMarker(block, marker []byte) bool {
	return bytes.Equal(block, marker)
}

// splitChunks cuts data into chunks of at most size bytes. When the tail
// would be shorter than minTail it borrows bytes from the previous chunk.
func splitChunks(data []byte, size int) [][]byte {
	if size < 2*minTail {
		size = 2 * minTail
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if len(data) <= n {
			n = len(data)
		} else if rest := len(data) - n; rest < minTail {
			n -= minTail - rest
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}
