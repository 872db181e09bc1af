package urlutil

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hamed0406/urlmonitor/internal/domain"
)

// Normalize validates raw as an absolute http(s) URL and returns the form
// used as target identity:
//   - scheme and host are lowercased
//   - default ports (80 for http, 443 for https) are dropped
//   - the fragment is dropped
//   - a bare "/" path is dropped; any other path is kept as-is
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is empty", domain.ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parse url: %v", domain.ErrValidation, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: url must use http or https", domain.ErrValidation)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: url has no host", domain.ErrValidation)
	}
	if u.User != nil {
		return "", fmt.Errorf("%w: credentials in url are not allowed", domain.ErrValidation)
	}

	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "/" && u.RawQuery == "" {
		u.Path = ""
		u.RawPath = ""
	}
	return u.String(), nil
}

// IsValidHTTPURL reports whether raw would be accepted by Normalize.
func IsValidHTTPURL(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

// Host returns the hostname of raw, or raw itself when it cannot be parsed.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
