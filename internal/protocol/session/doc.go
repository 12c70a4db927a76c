// Package session holds the connection policy shared by every link of a
// rank mesh.
//
// Ownership boundary:
// - connect, handshake, read and write timeouts
// - retry backoff for dialing peers
// - transport security validation and TLS config construction
package session
