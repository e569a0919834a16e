// Package uri parses and serializes the absolute http and https URIs a
// page fetch starts from, and resolves Location references against them.
//
// Components are kept exactly as received: nothing is percent-decoded.
//
// Reference:
//
// - https://datatracker.ietf.org/doc/html/rfc3986
//
// - https://datatracker.ietf.org/doc/html/rfc1808 (params)
package uri
