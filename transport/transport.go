// Package transport defines the byte stream contract HTTP messages travel over.
package transport

// Addr is what a [ConnDialer] connects to.
type Addr interface {
	Identifier() any // Extra identifier (e.g. port)
	String() string
}
