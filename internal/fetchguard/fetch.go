package fetchguard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// Fetch defaults
const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxBytes = 5 << 20
)

// Fetch errors
var (
	ErrFetchFailed = errors.New("remote fetch failed")
	ErrTooLarge    = errors.New("remote document exceeds size limit")
)

// Options configures a Guard
type Options struct {
	// Resolver defaults to net.DefaultResolver
	Resolver Resolver
	// HTTPClient defaults to a client whose dialer refuses blocked addresses.
	// Its redirect policy is always replaced.
	HTTPClient *http.Client
	Timeout    time.Duration
	MaxBytes   int64
}

// Guard checks URLs and fetches the ones that pass
type Guard struct {
	resolver Resolver
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// New creates a Guard
func New(opts Options) *Guard {
	g := &Guard{
		resolver: opts.Resolver,
		timeout:  opts.Timeout,
		maxBytes: opts.MaxBytes,
	}
	if g.resolver == nil {
		g.resolver = net.DefaultResolver
	}
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.maxBytes <= 0 {
		g.maxBytes = DefaultMaxBytes
	}

	var client http.Client
	if opts.HTTPClient != nil {
		client = *opts.HTTPClient
	} else {
		client.Transport = safeTransport()
	}
	client.Timeout = g.timeout
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	g.client = &client

	return g
}

// Fetch checks rawURL with AssertSafe and downloads it. Redirects are not
// followed and any non-2xx status is an error.
func (g *Guard) Fetch(ctx context.Context, rawURL string, allowlist []string) ([]byte, error) {
	u, err := g.check(ctx, rawURL, allowlist)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		var secErr *SecurityError
		if errors.As(err, &secErr) {
			return nil, secErr
		}
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if int64(len(body)) > g.maxBytes {
		return nil, ErrTooLarge
	}
	return body, nil
}

// safeTransport refuses to connect to blocked addresses even when DNS
// changes between AssertSafe and the dial.
func safeTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return reject(ReasonPrivateAddressBlocked, "")
			}
			addr, err := netip.ParseAddr(host)
			if err != nil || IsBlockedAddr(addr) {
				return reject(ReasonPrivateAddressBlocked, "")
			}
			return nil
		},
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return transport
}
