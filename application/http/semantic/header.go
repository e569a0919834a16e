package semantic

import (
	"strings"

	"webclient/application/http"
)

type Header struct{ Name, Value string }

// Headers is an ordered list of fields.
// Lookups ignore case while names keep the case they were added with.
type Headers struct{ entries []Header }

func NewHeaders(entries ...Header) Headers {
	return Headers{entries: append([]Header(nil), entries...)}
}

// HeadersFrom creates semantic headers from raw fields, keeping their order.
func HeadersFrom(fields []http.Field) Headers {
	entries := make([]Header, 0, len(fields))
	for _, field := range fields {
		entries = append(entries, Header{Name: string(field.Name), Value: string(field.Value)})
	}
	return Headers{entries: entries}
}

func (h *Headers) Add(name, value string) {
	h.entries = append(h.entries, Header{Name: name, Value: value})
}

// Set replaces every field named name with a single one.
// It keeps the position of the first replaced field.
func (h *Headers) Set(name, value string) {
	idx := -1
	entries := h.entries[:0:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.Name, name) {
			entries = append(entries, e)
			continue
		}
		if idx < 0 {
			idx = len(entries)
			entries = append(entries, Header{Name: name, Value: value})
		}
	}

	if idx < 0 {
		entries = append(entries, Header{Name: name, Value: value})
	}
	h.entries = entries
}

// Get assumes the field is a singleton field.
// Even if it appears multiple times, only the first value is returned.
// For list-based field, use [Headers.Values].
func (h Headers) Get(name string) (value string, ok bool) {
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Value, true
		}
	}
	return "", false
}

func (h Headers) Values(name string) []string {
	var values []string
	for _, e := range h.entries {
		if strings.EqualFold(e.Name, name) {
			values = append(values, e.Value)
		}
	}
	return values
}

func (h Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

func (h *Headers) Del(name string) {
	entries := h.entries[:0:0]
	for _, e := range h.entries {
		if !strings.EqualFold(e.Name, name) {
			entries = append(entries, e)
		}
	}
	h.entries = entries
}

func (h Headers) Len() int { return len(h.entries) }

// Entries returns a copy of every field in order.
func (h Headers) Entries() []Header {
	return append([]Header(nil), h.entries...)
}

func (h Headers) Clone() Headers { return NewHeaders(h.entries...) }

func (h Headers) ToFields() []http.Field {
	fields := make([]http.Field, 0, len(h.entries))
	for _, e := range h.entries {
		fields = append(fields, http.Field{Name: []byte(e.Name), Value: []byte(e.Value)})
	}
	return fields
}
