// Package hel implements the Host Egress List policy engine and the
// pinned HTTPS forwarder it gates: allowlist matching, DNS resolution,
// public-IP validation, and SSRF-resistant pinned forwarding.
package hel

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Decision is the outcome of evaluating a forward target against the
// Host Egress List.
type Decision struct {
	Allowed         bool
	Reason          string
	SelectedAddress string // chosen public IP literal, set only when Allowed
	Host            string
}

// Reason codes recorded on the receipt's policy block.
const (
	ReasonOK                 = "ok"
	ReasonBadURL             = "bad_url"
	ReasonHostNotAllowlisted = "host_not_allowlisted"
	ReasonPrivateIP          = "private_ip"
	ReasonDNSFailure         = "dns_resolution_failed"
)

// Engine evaluates forward targets against a tenant allowlist unioned
// with the global allowlist.
type Engine struct {
	resolve func(host string) ([]net.IP, error)
}

// NewEngine constructs a policy engine using the system resolver.
func NewEngine() *Engine {
	return &Engine{resolve: defaultResolve}
}

func defaultResolve(host string) ([]net.IP, error) {
	return net.LookupIP(host)
}

// Evaluate runs the HEL algorithm from spec §4.4 against targetURL for a
// tenant whose own allowlist is tenantAllowlist, unioned with global.
func (e *Engine) Evaluate(targetURL string, tenantAllowlist, globalAllowlist []string) Decision {
	u, err := url.Parse(targetURL)
	if err != nil || u.Scheme != "https" || u.Hostname() == "" {
		return Decision{Allowed: false, Reason: ReasonBadURL}
	}
	if u.RawQuery != "" || u.Fragment != "" {
		// Query/fragment-based host smuggling is rejected outright; a
		// legitimate forward target never needs either.
		return Decision{Allowed: false, Reason: ReasonBadURL}
	}

	host := strings.ToLower(u.Hostname())

	if !hostAllowed(host, tenantAllowlist) && !hostAllowed(host, globalAllowlist) {
		return Decision{Allowed: false, Reason: ReasonHostNotAllowlisted, Host: host}
	}

	ips, err := e.resolve(host)
	if err != nil || len(ips) == 0 {
		return Decision{Allowed: false, Reason: ReasonDNSFailure, Host: host}
	}

	for _, ip := range ips {
		if isPubliclyRoutable(ip) {
			return Decision{Allowed: true, Reason: ReasonOK, Host: host, SelectedAddress: ip.String()}
		}
	}
	return Decision{Allowed: false, Reason: ReasonPrivateIP, Host: host}
}

// hostAllowed checks host against an allowlist whose entries are either
// exact DNS names or a single-label wildcard "*.example.com" matching
// exactly one label prefix under example.com (never the apex, never
// multiple labels deep).
func hostAllowed(host string, allowlist []string) bool {
	for _, entry := range allowlist {
		entry = strings.ToLower(entry)
		if entry == host {
			return true
		}
		if strings.HasPrefix(entry, "*.") {
			base := entry[2:]
			if matchesSingleLabelWildcard(host, base) {
				return true
			}
		}
	}
	return false
}

func matchesSingleLabelWildcard(host, base string) bool {
	if !strings.HasSuffix(host, "."+base) {
		return false
	}
	prefix := strings.TrimSuffix(host, "."+base)
	// Exactly one label: no further dots in the remaining prefix.
	return prefix != "" && !strings.Contains(prefix, ".")
}

// isPubliclyRoutable rejects loopback, private (RFC 1918/unique-local),
// link-local, multicast, broadcast, unspecified, carrier-grade NAT
// (100.64.0.0/10), and the well-known cloud-metadata address.
func isPubliclyRoutable(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified() {
		return false
	}
	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 255 && ip4[1] == 255 && ip4[2] == 255 && ip4[3] == 255 {
			return false // limited broadcast
		}
		if ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127 {
			return false // carrier-grade NAT, RFC 6598
		}
		if ip4.Equal(net.IPv4(169, 254, 169, 254)) {
			return false // cloud instance-metadata address
		}
	}
	return true
}

// Error is returned by callers that need a typed policy failure.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("hel: forward denied: %s", e.Reason)
}
