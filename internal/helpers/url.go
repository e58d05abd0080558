package helpers

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"sort"
	"strings"
)

// trackingParams are query keys dropped during canonicalisation; feed links
// for the same story frequently differ only by these.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"utm_id":       {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref_src":      {},
}

// CanonicalURL normalises an article link: lower-cased scheme and host, no
// default port, no fragment, cleaned path, tracking parameters removed and the
// remaining query sorted. Links without a scheme are treated as https.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	u, err := parseLoose(raw)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	u.Host = stripDefaultPort(u.Scheme, strings.ToLower(u.Host))
	if u.Host == "" {
		return "", errors.New("url missing host")
	}
	u.Path = cleanPath(u.Path)
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = sortedQuery(u.Query())
	return u.String(), nil
}

// ArticleID derives the stable article identifier from its link. Two links
// that canonicalise identically share an id, so re-ingesting a story
// overwrites the previous record.
func ArticleID(raw string) (string, error) {
	canonical, err := CanonicalURL(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// DedupKey is the comparison key used when collapsing search hits that point
// at the same story: the canonical link, case-folded, without trailing slash.
// Links that cannot be parsed fall back to the trimmed raw value.
func DedupKey(raw string) string {
	key, err := CanonicalURL(raw)
	if err != nil {
		key = strings.TrimSpace(raw)
	}
	return strings.TrimRight(strings.ToLower(key), "/")
}

func parseLoose(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "" || u.Host != "" {
		return u, nil
	}
	if strings.HasPrefix(raw, "//") {
		return url.Parse("https:" + raw)
	}
	return url.Parse("https://" + raw)
}

func stripDefaultPort(scheme, host string) string {
	name, port, found := strings.Cut(host, ":")
	if !found || strings.Contains(port, ":") {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		return name
	}
	return host
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if cleaned != "/" && strings.HasSuffix(p, "/") {
		cleaned += "/"
	}
	return cleaned
}

func sortedQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for key := range q {
		if _, drop := trackingParams[strings.ToLower(key)]; drop {
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		values := append([]string(nil), q[key]...)
		sort.Strings(values)
		for _, value := range values {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(key))
			if value != "" {
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(value))
			}
		}
	}
	return b.String()
}
