// Package chat defines the conversation types shared by the request builder
// and the HTTP surface of the relay.
//
// A conversation is an ordered slice of [Message]. Order is significant: it
// is the order in which the upstream model sees the turns. The upstream
// request always starts with a system message; [EnsureSystemMessage] adds
// the default one when it is missing, without touching the caller's slice.
//
// The package has no external dependencies and performs no I/O.
package chat
