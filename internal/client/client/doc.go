// Package client talks to a chatrelay server.
//
// Dial pins the relay certificate on first use and refuses a different one
// afterwards. After the TLS handshake the relay sends its public key; every
// header tag and every payload key the client sends is sealed for it.
//
// LoginDialogue and RegisterDialogue implement the client half of the
// authentication dialogue over a bare Sender/Receiver pair and are usable
// without a Client. Client wraps them with the local device keystore.
//
// Once logged in, Run delivers relayed messages and routes command replies
// to Command, Invite and Whois.
package client
