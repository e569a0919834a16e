package semantic

// Method names are case-sensitive: "Head" is not [MethodHead].
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-9.1-5
type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodConnect Method = "CONNECT"
	MethodOptions Method = "OPTIONS"
	MethodTrace   Method = "TRACE"
)

// KeepsMethodOnFound reports whether m is sent again unchanged
// when a 301, 302 or 303 response asks the client to retrieve another resource.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-15.4.4
func (m Method) KeepsMethodOnFound() bool {
	return m == MethodGet || m == MethodHead
}
