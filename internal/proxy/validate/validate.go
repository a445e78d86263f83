// Package validate authorizes client-supplied URLs before any outbound
// socket is opened.
//
// A hostname is rejected when it is a well-known local alias, when it is a
// literal address inside a private or reserved range, or when any of its
// DNS records points into such a range. Checking every record matters: a
// single benign-looking name can carry one public and one internal address.
package validate

import (
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/daedalos/fetchproxy/internal/proxy/errs"
)

// Target is an authorized fetch destination. The resolved address set is
// carried forward so the fetcher dials exactly the addresses that were
// validated, closing the gap between validation-time and connect-time DNS.
type Target struct {
	URL      *url.URL
	Hostname string
	IPs      []net.IP
}

// LookupFunc resolves a hostname to its full A/AAAA record set.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

// Config controls validator behavior.
type Config struct {
	// AllowLoopback exempts 127.0.0.0/8 and ::1 from blocking. Intended for
	// tests that run upstream servers on the loopback interface; every other
	// private range stays blocked.
	AllowLoopback bool

	// Lookup overrides DNS resolution. Defaults to the system resolver.
	Lookup LookupFunc
}

// Validator performs the pre-fetch authorization check. It has no side
// effects beyond the DNS lookup itself.
type Validator struct {
	allowLoopback bool
	lookup        LookupFunc
}

// blockedNets covers loopback, RFC 1918, link-local, unique-local, and the
// "this network" range, for both address families.
var blockedNets = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"169.254.0.0/16",
	"192.168.0.0/16",
	"172.16.0.0/12",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

var loopbackNets = mustParseCIDRs("127.0.0.0/8", "::1/128")

// blockedNames are rejected before any resolution happens.
var blockedNames = []string{"localhost", "0.0.0.0"}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// New creates a validator with the given configuration.
func New(cfg Config) *Validator {
	lookup := cfg.Lookup
	if lookup == nil {
		lookup = func(ctx context.Context, host string) ([]net.IP, error) {
			return net.DefaultResolver.LookupIP(ctx, "ip", host)
		}
	}
	return &Validator{allowLoopback: cfg.AllowLoopback, lookup: lookup}
}

// Validate parses and authorizes a raw URL. It returns the target with its
// validated address set, or an error of kind InvalidURL, BlockedHost, or
// DNSResolutionFailed.
func (v *Validator) Validate(ctx context.Context, rawURL string) (*Target, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, errs.Wrap(errs.InvalidURL, err, "failed to parse URL")
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, errs.New(errs.InvalidURL, "unsupported scheme %q", parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return nil, errs.New(errs.InvalidURL, "URL has no host")
	}

	ips, err := v.CheckHost(ctx, host)
	if err != nil {
		return nil, err
	}

	return &Target{URL: parsed, Hostname: host, IPs: ips}, nil
}

// CheckHost authorizes a bare hostname or literal address and returns the
// address set a connection may be made to. The fetcher's dialer calls this
// for every redirect hop, so hosts reached mid-chain go through the same
// check as the original target.
func (v *Validator) CheckHost(ctx context.Context, host string) ([]net.IP, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")

	for _, name := range blockedNames {
		if host == name {
			return nil, errs.New(errs.BlockedHost, "host %q is blocked", host)
		}
	}
	if strings.HasSuffix(host, ".localhost") {
		return nil, errs.New(errs.BlockedHost, "host %q is blocked", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if v.blockedIP(ip) {
			return nil, errs.New(errs.BlockedHost, "address %s is in a blocked range", ip)
		}
		return []net.IP{ip}, nil
	}

	ips, err := v.lookup(ctx, host)
	if err != nil {
		return nil, errs.Wrap(errs.DNSResolutionFailed, err, "DNS resolution failed for "+host)
	}
	if len(ips) == 0 {
		return nil, errs.New(errs.DNSResolutionFailed, "no addresses found for %q", host)
	}

	// One bad record poisons the whole name. Anything less invites a
	// rebinding race between this check and the connect.
	for _, ip := range ips {
		if v.blockedIP(ip) {
			return nil, errs.New(errs.BlockedHost, "host %q resolves to blocked address %s", host, ip)
		}
	}

	return ips, nil
}

func (v *Validator) blockedIP(ip net.IP) bool {
	if v.allowLoopback {
		for _, n := range loopbackNets {
			if n.Contains(ip) {
				return false
			}
		}
	}
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
