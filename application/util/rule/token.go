package rule

import "golang.org/x/net/http/httpguts"

// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.6.2-2
func IsValidToken(s string) bool {
	// A field name is exactly a token.
	return httpguts.ValidHeaderFieldName(s)
}

// IsValidFieldValue rejects values that would end the field line early.
// Reference: https://datatracker.ietf.org/doc/html/rfc9110#section-5.5
func IsValidFieldValue(s string) bool {
	return httpguts.ValidHeaderFieldValue(s)
}
