package rule

const (
	CR   byte = '\r'
	LF   byte = '\n'
	SP   byte = ' '
	HTAB byte = '\t'
	VT   byte = 0x0B
	FF   byte = 0x0C
)

var (
	OWS         = []byte{SP, HTAB}
	CRLF        = []byte{CR, LF}
	Whitespaces = []byte{SP, HTAB, VT, FF, CR}
)

func IsWhitespace(r rune) bool {
	for _, ws := range Whitespaces {
		if r == rune(ws) {
			return true
		}
	}
	return false
}

func IsAlpha(r rune) bool { return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') }
func IsDigit(r rune) bool { return '0' <= r && r <= '9' }
func IsHex(r rune) bool   { return IsDigit(r) || ('a' <= r && r <= 'f') || ('A' <= r && r <= 'F') }

// IsVisible reports whether c is a printable US-ASCII byte other than SP.
// Reference: https://datatracker.ietf.org/doc/html/rfc5234#appendix-B.1 (VCHAR)
func IsVisible(c byte) bool { return 0x21 <= c && c <= 0x7e }

// AllVisible reports whether s is non-empty and made of [IsVisible] bytes only.
func AllVisible(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsVisible(s[i]) {
			return false
		}
	}
	return true
}
