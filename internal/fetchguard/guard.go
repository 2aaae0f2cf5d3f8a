// Package fetchguard validates user supplied URLs before the service fetches
// them, and performs the fetch with redirects disabled.
package fetchguard

import (
	"context"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Reason identifies which safety rule rejected a URL
type Reason string

// Rejection reasons, in the order the rules are checked
const (
	ReasonInvalidURL            Reason = "invalid-url"
	ReasonCredentialsNotAllowed Reason = "credentials-not-allowed"
	ReasonHostNotAllowed        Reason = "host-not-allowed"
	ReasonHostNotAllowlisted    Reason = "host-not-allowlisted"
	ReasonPrivateAddressBlocked Reason = "private-address-blocked"
)

// SecurityError is returned when a URL fails a safety rule. It never carries
// the resolved address.
type SecurityError struct {
	Reason Reason
	Detail string
}

func (e *SecurityError) Error() string {
	if e.Detail != "" {
		return "url rejected: " + string(e.Reason) + ": " + e.Detail
	}
	return "url rejected: " + string(e.Reason)
}

func reject(reason Reason, detail string) *SecurityError {
	return &SecurityError{Reason: reason, Detail: detail}
}

// Resolver looks up the addresses of a host
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// IsBlockedAddr reports whether addr is private, loopback, link-local or
// unspecified. IPv4-mapped IPv6 addresses are checked as IPv4.
func IsBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// AssertSafe runs every rule against rawURL. allowlist entries are lowercase
// hostnames; an empty allowlist accepts any host that passes the other rules.
func (g *Guard) AssertSafe(ctx context.Context, rawURL string, allowlist []string) error {
	_, err := g.check(ctx, rawURL, allowlist)
	return err
}

func (g *Guard) check(ctx context.Context, rawURL string, allowlist []string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, reject(ReasonInvalidURL, "url must use http or https")
	}

	if u.User != nil {
		return nil, reject(ReasonCredentialsNotAllowed, "")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" || isLocalName(host) {
		return nil, reject(ReasonHostNotAllowed, "")
	}

	if len(allowlist) > 0 && !allowlisted(host, allowlist) {
		return nil, reject(ReasonHostNotAllowlisted, "")
	}

	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if IsBlockedAddr(addr) {
			return nil, reject(ReasonPrivateAddressBlocked, "")
		}
	}

	return u, nil
}

func (g *Guard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}

	ipAddrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(ipAddrs) == 0 {
		return nil, reject(ReasonHostNotAllowed, "host could not be resolved")
	}

	addrs := make([]netip.Addr, 0, len(ipAddrs))
	for _, ip := range ipAddrs {
		addr, ok := netip.AddrFromSlice(ip.IP)
		if !ok {
			return nil, reject(ReasonHostNotAllowed, "host could not be resolved")
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

func isLocalName(host string) bool {
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local")
}

func allowlisted(host string, allowlist []string) bool {
	for _, entry := range allowlist {
		entry = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(entry)), ".")
		if entry == "" {
			continue
		}
		if host == entry || strings.HasSuffix(host, "."+entry) {
			return true
		}
	}
	return false
}
