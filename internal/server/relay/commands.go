package relay

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/chatrelay/internal/common"
	"github.com/dmitrijs2005/chatrelay/internal/cryptox"
	"github.com/dmitrijs2005/chatrelay/internal/logging"
	"github.com/dmitrijs2005/chatrelay/internal/protocol"
	"github.com/dmitrijs2005/chatrelay/internal/server/sessions"
)

type commandFunc func(s *Server, ctx context.Context, sess *sessions.Session, args [][]byte) (string, error)

var commands = map[string]commandFunc{
	"code":  (*Server).cmdCode,
	"whois": (*Server).cmdWhois,
}

var (
	errUnknownCommand = errors.New("unknown command")
	errBadArguments   = errors.New("bad arguments")
	errUnknownKey     = errors.New("unknown key")
)

// command answers a control message with a reply sealed for the caller.
func (s *Server) command(ctx context.Context, sess *sessions.Session, msg *protocol.Message, log logging.Logger) error {
	plaintext, err := msg.Open(s.key)
	if err != nil {
		return err
	}
	var cmd protocol.Command
	if err := protocol.Decode(plaintext, &cmd); err != nil {
		return err
	}

	reply := protocol.CommandReply{Name: cmd.Name}
	fn, ok := commands[cmd.Name]
	if !ok {
		reply.Error = errUnknownCommand.Error()
	} else if value, err := fn(s, ctx, sess, cmd.Args); err != nil {
		reply.Error = err.Error()
	} else {
		reply.OK, reply.Value = true, value
	}
	log.Debug(ctx, "command", "name", cmd.Name, "ok", reply.OK)

	payload, err := protocol.Encode(reply)
	if err != nil {
		return err
	}
	env, key, err := cryptox.NewEnvelope(payload, sess.PublicKey, s.key.Public)
	if err != nil {
		return err
	}
	common.WipeByteArray(key)

	h := &protocol.Header{
		ConversationID: msg.Header.ConversationID,
		Timestamp:      msg.Header.Timestamp,
		Body:           protocol.ControlMsg{},
	}
	return sess.Sender.SendMessage(h, env, sess.PublicKey)
}

// cmdCode returns the caller's invite token.
func (s *Server) cmdCode(_ context.Context, sess *sessions.Session, _ [][]byte) (string, error) {
	token, ok := s.registry.Token(sess.Username)
	if !ok {
		return "", common.ErrorNotFound
	}
	return token, nil
}

// cmdWhois resolves a device public key.
func (s *Server) cmdWhois(ctx context.Context, _ *sessions.Session, args [][]byte) (string, error) {
	if len(args) != 1 || len(args[0]) != cryptox.PublicKeySize {
		return "", errBadArguments
	}
	name, err := s.dir.UsernameByPublicKey(ctx, args[0])
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return "", errUnknownKey
	case err != nil:
		return "", common.ErrorInternal
	}
	return name, nil
}
