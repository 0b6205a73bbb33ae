package main

import (
	"net/url"
	"strings"
)

// Tracking parameters stripped during normalization. Keys are matched
// case-insensitively; utm covers the whole utm_* family via prefix.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"ref":      true,
	"referrer": true,
	"_ga":      true,
	"mc_cid":   true,
	"mc_eid":   true,
}

// normalizeURL canonicalizes rawURL for dedup comparison: tracking query
// parameters are removed, the host is lowercased, and the fragment is
// dropped. It never fails; an unparseable URL is returned unchanged.
// Normalizing an already-normalized URL is a no-op.
func normalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		query, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			return rawURL
		}

		for key := range query {
			if isTrackingParam(key) {
				query.Del(key)
			}
		}
		u.RawQuery = query.Encode()
	}

	return u.String()
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	return strings.HasPrefix(key, "utm_") || trackingParams[key]
}
