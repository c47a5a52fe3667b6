// Package validation checks user supplied endpoints before the client
// talks to them.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const defaultMaxLength = 2048

// URLValidator validates backend and feed URLs.
type URLValidator struct {
	AllowLocalhost  bool
	AllowPrivateIPs bool
	MaxLength       int
}

// NewURLValidator rejects loopback and private hosts. Use it for URLs
// that come from feed configuration.
func NewURLValidator() *URLValidator {
	return &URLValidator{MaxLength: defaultMaxLength}
}

// NewPermissiveURLValidator accepts local hosts, which a self-hosted or
// test backend needs.
func NewPermissiveURLValidator() *URLValidator {
	return &URLValidator{
		AllowLocalhost:  true,
		AllowPrivateIPs: true,
		MaxLength:       defaultMaxLength,
	}
}

// ValidateFeedURL checks an RSS/Atom URL and returns it normalized.
// A missing scheme defaults to https.
func (v *URLValidator) ValidateFeedURL(input string) (string, error) {
	u, err := v.parse(input)
	if err != nil {
		return "", err
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// ValidateBaseURL checks an API base URL. The result has no trailing
// slash so paths can be appended directly.
func (v *URLValidator) ValidateBaseURL(input string) (string, error) {
	u, err := v.parse(input)
	if err != nil {
		return "", err
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("base URL must not contain a query or fragment")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

func (v *URLValidator) parse(input string) (*url.URL, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}
	if v.MaxLength > 0 && len(trimmed) > v.MaxLength {
		return nil, fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid URL format: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are allowed)", u.Scheme)
	}
	u.Scheme = scheme

	if u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("URL must have a valid host")
	}
	if u.User != nil {
		return nil, fmt.Errorf("URL must not contain credentials")
	}
	u.Host = strings.ToLower(u.Host)

	if err := v.checkHost(u.Hostname()); err != nil {
		return nil, err
	}
	if strings.Contains(u.Path, "..") {
		return nil, fmt.Errorf("path traversal not allowed in URL")
	}
	return u, nil
}

func (v *URLValidator) checkHost(host string) error {
	if !v.AllowLocalhost && isLocalhost(host) {
		return fmt.Errorf("localhost URLs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if !v.AllowLocalhost && ip.IsLoopback() {
			return fmt.Errorf("loopback addresses are not allowed")
		}
		if !v.AllowPrivateIPs && isPrivateIP(ip) {
			return fmt.Errorf("private IP addresses are not allowed")
		}
	}
	return nil
}

func isLocalhost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" || strings.HasSuffix(host, ".localhost") || host == "0.0.0.0"
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified()
}
