// Package http implements the HTTP/1.x message syntax a single-shot client
// needs: request encoding and incremental response parsing.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc1945
//
// - https://datatracker.ietf.org/doc/html/rfc9110
//
// - https://datatracker.ietf.org/doc/html/rfc9112
package http
