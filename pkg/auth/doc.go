// Package auth guards the relay with an optional shared site password.
//
// The password is hashed with SHA-256 at construction and compared in
// constant time; the plaintext is not retained.
package auth
