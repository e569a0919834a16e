package uri

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

// Join resolves ref against base.
// A ref without fragment keeps the fragment of base.
// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.2.2
func Join(base URI, ref []byte) (URI, error) {
	s := string(bytes.TrimSpace(ref))
	if containsCTL(s) {
		return URI{}, errors.Wrap(ErrMalformed, "reference should not contain CTL bytes")
	}

	var (
		out URI
		err error
	)
	switch {
	case hasScheme(s):
		out, err = Parse(s)
	case strings.HasPrefix(s, "//"):
		// network-path reference.
		out, err = Parse(base.Scheme + ":" + s)
	default:
		out = resolveRelative(base, s)
	}
	if err != nil {
		return URI{}, errors.Wrapf(err, "resolving %q", s)
	}

	if out.Fragment == "" {
		out.Fragment = base.Fragment
	}

	return out, nil
}

func resolveRelative(base URI, ref string) URI {
	out := base
	out.Fragment = ""

	beforeFrag, frag, _ := strings.Cut(ref, "#")
	path, query, hasQuery := strings.Cut(beforeFrag, "?")

	basePath := base.Path
	if base.Params != "" {
		basePath += ";" + base.Params
	}

	switch {
	case path == "":
		path = basePath
		if !hasQuery {
			query = base.Query
		}
	case strings.HasPrefix(path, "/"):
		path = removeDotSegments(path)
	default:
		path = removeDotSegments(mergePath(basePath, path))
	}

	out.Path, out.Params = splitParams(path)
	out.Query = query
	out.Fragment = frag

	return out
}

// Reference: https://datatracker.ietf.org/doc/html/rfc3986#section-5.2.3
func mergePath(basePath, refPath string) string {
	// base always has an authority here.
	if basePath == "" {
		return "/" + refPath
	}

	idx := strings.LastIndexByte(basePath, '/')
	return basePath[:idx+1] + refPath
}

// hasScheme reports whether s starts with "scheme:".
func hasScheme(s string) bool {
	idx := strings.IndexAny(s, ":/?#")
	if idx <= 0 || s[idx] != ':' {
		return false
	}
	return assertValidScheme(s[:idx]) == nil
}
