package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the algorithm to change without key collisions.
const (
	DomainRequest = "offsync/request/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// RequestKey returns the logical identity of a request.
//
// The key covers the upper-cased method, the lower-cased scheme and host,
// the path ("/" when empty) and the query parameters sorted by name then
// value. Fragments and userinfo are ignored.
func RequestKey(method, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("RequestKey: parse url: %w", err)
	}

	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	target := strings.ToLower(u.Scheme)
	if u.Host != "" {
		target += "://" + strings.ToLower(u.Host)
	}
	target += p

	var query []any
	for _, pair := range sortedQuery(u.Query()) {
		query = append(query, []string{pair[0], pair[1]})
	}
	if query == nil {
		query = []any{}
	}

	canonical, err := Marshal(map[string]any{
		"method": strings.ToUpper(method),
		"target": target,
		"query":  query,
	})
	if err != nil {
		return "", fmt.Errorf("RequestKey: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainRequest, canonical), nil
}

// MustRequestKey is like RequestKey but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustRequestKey(method, rawURL string) string {
	key, err := RequestKey(method, rawURL)
	if err != nil {
		panic(err)
	}
	return key
}

func sortedQuery(q url.Values) [][2]string {
	var pairs [][2]string
	for k, vs := range q {
		for _, v := range vs {
			pairs = append(pairs, [2]string{k, v})
		}
	}
	slices.SortFunc(pairs, func(a, b [2]string) int {
		if c := compareUTF16(a[0], b[0]); c != 0 {
			return c
		}
		return compareUTF16(a[1], b[1])
	})
	return pairs
}
