package model

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// SchemePolicy controls which declared schemes are accepted for a target
type SchemePolicy string

const (
	// SchemePolicyDeclared trusts the caller-declared scheme and port
	SchemePolicyDeclared SchemePolicy = "declared"
	// SchemePolicyHTTPSOnly rejects targets that are neither https nor port 443
	SchemePolicyHTTPSOnly SchemePolicy = "https-only"
)

// ParseSchemePolicy validates a policy name
func ParseSchemePolicy(s string) (SchemePolicy, error) {
	switch SchemePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemePolicyDeclared:
		return SchemePolicyDeclared, nil
	case SchemePolicyHTTPSOnly:
		return SchemePolicyHTTPSOnly, nil
	default:
		return "", fmt.Errorf("invalid scheme policy: %s (must be 'declared' or 'https-only')", s)
	}
}

// Target represents the endpoint whose certificate is checked. Either Host
// (with optional Port and Scheme) or SiteURL is set by the task source.
type Target struct {
	SiteURL string
	Host    string
	Port    int
	Scheme  string
}

// Resolve fills host, port and scheme following the precedence explicit host
// fields > site URL > defaults. The returned error is classified as
// invalid_url.
func (t Target) Resolve(policy SchemePolicy) (Target, error) {
	resolved := Target{
		SiteURL: t.SiteURL,
		Host:    strings.TrimSpace(t.Host),
		Port:    t.Port,
		Scheme:  strings.ToLower(strings.TrimSpace(t.Scheme)),
	}

	if resolved.Host == "" && strings.TrimSpace(t.SiteURL) != "" {
		u, err := parseSiteURL(t.SiteURL)
		if err != nil {
			return Target{}, NewInvalidURLError(err)
		}
		resolved.Host = u.Hostname()
		if u.Scheme != "" {
			resolved.Scheme = strings.ToLower(u.Scheme)
		}
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return Target{}, NewInvalidURLError(fmt.Errorf("invalid port %q", p))
			}
			resolved.Port = port
		}
	}

	if resolved.Host == "" {
		return Target{}, NewInvalidURLError(ErrMissingHost)
	}
	if strings.ContainsAny(resolved.Host, " \t\r\n/") {
		return Target{}, NewInvalidURLError(fmt.Errorf("invalid host %q", resolved.Host))
	}

	if resolved.Scheme == "" {
		resolved.Scheme = "https"
	}
	if resolved.Port == 0 {
		resolved.Port = defaultPort(resolved.Scheme)
	}
	if resolved.Port < 1 || resolved.Port > 65535 {
		return Target{}, NewInvalidURLError(fmt.Errorf("port out of range: %d", resolved.Port))
	}

	if policy == SchemePolicyHTTPSOnly && resolved.Scheme != "https" && resolved.Port != 443 {
		return Target{}, NewInvalidURLError(fmt.Errorf("non-https target %s port=%d", resolved.Scheme, resolved.Port))
	}

	return resolved, nil
}

// Address returns host:port for dialing
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func parseSiteURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid site_url: %w", err)
	}
	return u, nil
}

func defaultPort(scheme string) int {
	if scheme == "http" {
		return 80
	}
	return 443
}
