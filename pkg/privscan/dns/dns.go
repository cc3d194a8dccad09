// Package dns provides reverse DNS (PTR) lookup utilities.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	dnslib "github.com/miekg/dns"
)

// DefaultTimeout is the default timeout for DNS lookups.
const DefaultTimeout = 2 * time.Second

// DefaultResolvConf is where system nameservers are read from.
const DefaultResolvConf = "/etc/resolv.conf"

// ErrNoServers is returned when a PTR resolver has no nameserver to query.
var ErrNoServers = errors.New("no DNS servers configured")

// DebugLogger is a callback for debug logging.
// Set this to receive debug messages from DNS operations.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// SystemResolver performs reverse lookups through the operating system
// resolver (hosts file, nsswitch, configured nameservers).
type SystemResolver struct {
	Timeout  time.Duration
	resolver *net.Resolver
}

// NewSystemResolver creates a system resolver with defaults.
func NewSystemResolver() *SystemResolver {
	return &SystemResolver{
		Timeout:  DefaultTimeout,
		resolver: &net.Resolver{},
	}
}

// LookupAddr returns the primary hostname of addr, or "" if none was found.
func (d *SystemResolver) LookupAddr(ctx context.Context, addr netip.Addr) (string, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	names, err := d.resolver.LookupAddr(lookupCtx, addr.String())
	if err != nil {
		debugLog("%s: lookup failed: %v", addr, err)
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}

	// Clean up trailing dots from DNS names
	name := strings.TrimSuffix(names[0], ".")
	debugLog("%s -> %s", addr, name)
	return name, nil
}

// PTRResolver sends PTR queries directly to a list of nameservers.
// Servers are tried in order until one answers.
type PTRResolver struct {
	Servers []string
	Timeout time.Duration
	client  *dnslib.Client
}

// NewPTRResolver creates a PTR resolver for the given servers. Entries
// without a port get port 53. An empty list uses the nameservers from
// /etc/resolv.conf.
func NewPTRResolver(servers []string) (*PTRResolver, error) {
	if len(servers) == 0 {
		var err error
		servers, err = SystemServers(DefaultResolvConf)
		if err != nil {
			return nil, err
		}
	}

	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}
	if len(normalized) == 0 {
		return nil, ErrNoServers
	}

	return &PTRResolver{
		Servers: normalized,
		Timeout: DefaultTimeout,
		client:  &dnslib.Client{Net: "udp"},
	}, nil
}

// SystemServers returns the nameservers listed in a resolv.conf file as host:port.
func SystemServers(path string) ([]string, error) {
	cfg, err := dnslib.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(cfg.Servers) == 0 {
		return nil, ErrNoServers
	}
	servers := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers = append(servers, net.JoinHostPort(s, cfg.Port))
	}
	return servers, nil
}

// LookupAddr returns the first PTR target of addr, or "" for NXDOMAIN or an
// empty answer.
func (r *PTRResolver) LookupAddr(ctx context.Context, addr netip.Addr) (string, error) {
	if len(r.Servers) == 0 {
		return "", ErrNoServers
	}

	name, err := dnslib.ReverseAddr(addr.String())
	if err != nil {
		return "", err
	}
	m := new(dnslib.Msg)
	m.SetQuestion(name, dnslib.TypePTR)
	m.RecursionDesired = true

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for _, server := range r.Servers {
		in, _, err := r.client.ExchangeContext(lookupCtx, m, server)
		if err != nil {
			debugLog("%s: query to %s failed: %v", addr, server, err)
			lastErr = err
			continue
		}
		switch in.Rcode {
		case dnslib.RcodeSuccess:
		case dnslib.RcodeNameError:
			return "", nil
		default:
			lastErr = fmt.Errorf("%s answered %s", server, rcodeString(in.Rcode))
			continue
		}
		for _, rr := range in.Answer {
			if ptr, ok := rr.(*dnslib.PTR); ok {
				host := strings.TrimSuffix(ptr.Ptr, ".")
				debugLog("%s -> %s", addr, host)
				return host, nil
			}
		}
		return "", nil
	}
	return "", lastErr
}

func rcodeString(rcode int) string {
	if s, ok := dnslib.RcodeToString[rcode]; ok {
		return s
	}
	return strconv.Itoa(rcode)
}
