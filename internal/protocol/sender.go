package protocol

import (
	"bufio"
	"io"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Sender writes blocks and whole messages to one peer. It is safe for
// concurrent use: the blocks of a single message are never interleaved with
// another caller's blocks.
type Sender struct {
	mu           sync.Mutex
	raw          io.Writer
	w            *bufio.Writer
	dl           writeDeadliner
	chunkSize    ChunkSize
	writeTimeout time.Duration
}

// NewSender wraps w. A zero chunk size selects DefaultChunkSize. When w is
// a net.Conn and writeTimeout is positive, every flush runs under a write
// deadline so a stalled peer cannot block the caller forever.
func NewSender(w io.Writer, chunkSize ChunkSize, writeTimeout time.Duration) *Sender {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	s := &Sender{
		raw:          w,
		w:            bufio.NewWriterSize(w, 64<<10),
		chunkSize:    chunkSize,
		writeTimeout: writeTimeout,
	}
	if dl, ok := w.(writeDeadliner); ok {
		s.dl = dl
	}
	return s
}

// SendBlock writes a single block and flushes it.
func (s *Sender) SendBlock(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushed(func() error {
		return WriteBlock(s.w, data)
	})
}

// SendString is SendBlock for status literals.
func (s *Sender) SendString(v string) error {
	return s.SendBlock([]byte(v))
}

// SendMessage writes a full message: header tags sealed for tagKey, the
// delimiter, the packed envelope in chunks and the terminator. h.Length is
// overwritten with the packed envelope size.
func (s *Sender) SendMessage(h *Header, env *cryptox.Envelope, tagKey *[32]byte) error {
	payload := env.Pack()

	hdr := *h
	hdr.Length = uint32(len(payload))
	tags, err := GenerateHeader(&hdr, tagKey)
	if err != nil {
		return err
	}

	return s.SendRaw(tags, payload)
}

// SendRaw writes pre-built tag blocks followed by payload.
func (s *Sender) SendRaw(tags [][]byte, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushed(func() error {
		for _, t := range tags {
			if err := WriteBlock(s.w, t); err != nil {
				return err
			}
		}
		if err := WriteBlock(s.w, Delimiter); err != nil {
			return err
		}
		for _, c := range splitChunks(payload, int(s.chunkSize)) {
			if err := WriteBlock(s.w, c); err != nil {
				return err
			}
		}
		return WriteBlock(s.w, Terminator)
	})
}

// Close closes the underlying writer when it is an io.Closer. It does not
// wait for an in-flight message, so a concurrent reader of the peer sees a
// broken stream.
func (s *Sender) Close() error {
	if c, ok := s.raw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Sender) flushed(write func() error) error {
	if s.dl != nil && s.writeTimeout > 0 {
		_ = s.dl.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		defer func() { _ = s.dl.SetWriteDeadline(time.Time{}) }()
	}
	if err := write(); err != nil {
		return brokenStream(err)
	}
	if err := s.w.Flush(); err != nil {
		return brokenStream(err)
	}
	return nil
}
