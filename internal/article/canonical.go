package article

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
)

var ErrInvalidLink = errors.New("link is not an absolute http(s) URL")

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"dclid":   {},
	"msclkid": {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
	"spm":     {},
	"_ga":     {},
	"yclid":   {},
}

// Canonicalize reduces a link to the form used as the deduplication key.
// The result is a fixed point: Canonicalize(Canonicalize(x)) == Canonicalize(x).
func Canonicalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidLink
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", ErrInvalidLink
	}
	scheme := strings.ToLower(parsed.Scheme)
	if (scheme != "http" && scheme != "https") || parsed.Hostname() == "" {
		return "", ErrInvalidLink
	}

	host := strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
		if !defaultPort {
			host = host + ":" + port
		}
	}

	path := parsed.Path
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	path = strings.TrimRight(path, "/")

	canonical := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path,
		RawQuery: canonicalQuery(parsed.Query()),
	}
	return canonical.String(), nil
}

func canonicalQuery(q url.Values) string {
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	if len(q) == 0 {
		return ""
	}

	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	reordered := url.Values{}
	for _, key := range keys {
		values := append([]string(nil), q[key]...)
		sort.Strings(values)
		for _, value := range values {
			reordered.Add(key, value)
		}
	}
	return reordered.Encode()
}

// LeadID is the hex SHA-1 of a canonical link.
func LeadID(canonical string) string {
	sum := sha1.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

