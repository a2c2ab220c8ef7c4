package identity

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizeIRI converts a publisher- or subscriber-supplied IRI into a
// canonical URI: NFC-normalize the Unicode path/query, then percent-encode
// any remaining non-ASCII bytes (spec.md §4.5 "Normalizes Unicode in the
// path (IRI -> URI)", §8 round-trip law "normalize_iri(x) is idempotent").
func NormalizeIRI(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse iri: %w", err)
	}

	u.Path = norm.NFC.String(u.Path)
	if u.RawPath != "" {
		u.RawPath = percentEncodeNonASCII(norm.NFC.String(u.RawPath))
	}
	if u.RawQuery != "" {
		u.RawQuery = percentEncodeNonASCII(norm.NFC.String(u.RawQuery))
	}
	return u.String(), nil
}

func percentEncodeNonASCII(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
			continue
		}
		buf := make([]byte, utf8.RuneLen(r))
		utf8.EncodeRune(buf, r)
		for _, c := range buf {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
