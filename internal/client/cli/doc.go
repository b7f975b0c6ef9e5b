// Package cli provides the interactive chatrelay command-line client.
//
// It wires configuration, the local device key store, certificate pins and
// a relay connection into a small REPL. Typical flow: register with an
// invite (once), log in, then send text and files to conversations while a
// background goroutine prints whatever the relay forwards.
//
// Commands:
//   - register / login
//   - send <conversation> <text>
//   - sendfile <conversation> <path>
//   - invite, whois [key]
//   - forget (drop the pinned relay certificate)
//   - exit
//
// Conversations are addressed either by UUID or by a name, which is mapped
// to a stable name-based UUID so every member typing the same name lands in
// the same conversation.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
