package relay

import (
	"bytes"
	"context"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/server/sessions"
)

// serveSession is the steady-state loop of an authenticated connection. It
// returns the error that ended the session.
func (s *Server) serveSession(ctx context.Context, sess *sessions.Session, recv *protocol.Receiver, log logging.Logger) error {
	for {
		msg, err := recv.ReceiveMessage()
		if err != nil {
			return err
		}

		if !bytes.Equal(msg.Envelope.SenderKey[:], sess.PublicKey[:]) {
			log.Warn(ctx, "dropping message with foreign sender key", "type", msg.Header.Type())
			continue
		}

		if msg.Header.Type() == protocol.TypeControl {
			if err := s.command(ctx, sess, msg, log); err != nil {
				return err
			}
			continue
		}

		if err := s.fanOut(ctx, sess, msg, log); err != nil {
			return err
		}
	}
}

// fanOut forwards msg to every other session. The ciphertext is shared
// across recipients; only the wrapped key and the header seal change. A
// recipient that cannot keep up is disconnected, which tears its session
// down in its own goroutine.
func (s *Server) fanOut(ctx context.Context, from *sessions.Session, msg *protocol.Message, log logging.Logger) error {
	symKey, err := s.key.UnwrapKey(msg.Envelope.WrappedKey)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(symKey)

	recipients := s.registry.Snapshot(from)
	s.obs.Relayed(string(msg.Header.Type()))

	for _, to := range recipients {
		env, err := msg.Envelope.Rewrap(symKey, to.PublicKey)
		if err == nil {
			err = to.Sender.SendMessage(msg.Header, env, to.PublicKey)
		}
		if err != nil {
			s.obs.FanoutFailed()
			log.Warn(ctx, "fan-out failed", "to", to.Username, "error", err)
			_ = to.Sender.Close()
		}
	}

	log.Debug(ctx, "relayed", "type", msg.Header.Type(), "recipients", len(recipients))
	return nil
}
