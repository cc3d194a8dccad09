package privscan

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcuoli/go-privscan/pkg/privscan/exclude"
	"github.com/marcuoli/go-privscan/pkg/privscan/hosts"
	"github.com/marcuoli/go-privscan/pkg/privscan/network"
	"github.com/marcuoli/go-privscan/pkg/privscan/sweep"
)

type resolverFunc func(addr netip.Addr) (string, error)

func (f resolverFunc) LookupAddr(_ context.Context, addr netip.Addr) (string, error) {
	return f(addr)
}

type pingerFunc func(addr netip.Addr) bool

func (f pingerFunc) Ping(_ context.Context, addr netip.Addr, _ time.Duration) (bool, error) {
	return f(addr), nil
}

type connectorFunc func(target netip.AddrPort) bool

func (f connectorFunc) Connect(_ context.Context, target netip.AddrPort, _ time.Duration) error {
	if f(target) {
		return nil
	}
	return errors.New("refused")
}

// probeLog records every address any stub was asked about.
type probeLog struct {
	mu    sync.Mutex
	addrs map[netip.Addr]int
}

func (l *probeLog) touch(addr netip.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.addrs == nil {
		l.addrs = make(map[netip.Addr]int)
	}
	l.addrs[addr]++
}

func writeExcludeFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exclusions.txt")
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write exclusions: %v", err)
	}
	return path
}

func newTestScanner(t *testing.T, opts Options) *Scanner {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.LocalAddrs = func() ([]netip.Addr, error) { return nil, nil }
	s.Resolver = resolverFunc(func(netip.Addr) (string, error) { return "", nil })
	s.Pinger = pingerFunc(func(netip.Addr) bool { return false })
	s.Connector = connectorFunc(func(netip.AddrPort) bool { return false })
	return s
}

func testOptions(t *testing.T, target string, excl ...string) Options {
	t.Helper()
	opts := DefaultOptions()
	opts.Target = target
	opts.ExcludeFile = writeExcludeFile(t, excl...)
	return opts
}

func hostNames(res *Result) map[string]string {
	m := make(map[string]string, len(res.Hosts))
	for _, r := range res.Hosts {
		m[r.Addr.String()] = r.Hostname
	}
	return m
}

func TestRun_ExcludedBlockNeverReported(t *testing.T) {
	s := newTestScanner(t, testOptions(t, "10.5.0.0/23", "10.5.0.0/24"))
	var log probeLog
	s.Resolver = resolverFunc(func(addr netip.Addr) (string, error) {
		log.touch(addr)
		return "host-" + strings.ReplaceAll(addr.String(), ".", "-"), nil
	})

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, r := range res.Hosts {
		if strings.HasPrefix(r.Addr.String(), "10.5.0.") {
			t.Fatalf("excluded address %s reported", r.Addr)
		}
	}
	for addr := range log.addrs {
		if strings.HasPrefix(addr.String(), "10.5.0.") {
			t.Fatalf("excluded address %s probed", addr)
		}
	}
	if len(res.Subnets) != 1 || res.Subnets[0].String() != "10.5.1.0/24" {
		t.Errorf("Subnets = %v", res.Subnets)
	}
	if len(res.Hosts) != 254 || len(res.Up) != 254 {
		t.Errorf("hosts = %d, up = %d", len(res.Hosts), len(res.Up))
	}
	if res.Blocks != 2 {
		t.Errorf("Blocks = %d", res.Blocks)
	}
}

func TestRun_OpenPortWithoutNameOrPing(t *testing.T) {
	opts := testOptions(t, "192.168.5.0/24")
	opts.PortScan = true
	s := newTestScanner(t, opts)

	target := netip.MustParseAddr("192.168.5.10")
	s.Resolver = resolverFunc(func(addr netip.Addr) (string, error) {
		if addr == netip.MustParseAddr("192.168.5.1") {
			return "gw.lan", nil
		}
		return "", nil
	})
	s.Connector = connectorFunc(func(ap netip.AddrPort) bool {
		return ap.Addr() == target && ap.Port() == 445
	})

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := res.OpenPorts[445]; len(got) != 1 || got[0] != target {
		t.Errorf("445 = %v", got)
	}
	if name := hostNames(res)[target.String()]; name != hosts.Unknown {
		t.Errorf("hostname = %q, want %q", name, hosts.Unknown)
	}
	for _, a := range res.Up {
		if a == target {
			t.Error("port-only host must not be in Up")
		}
	}
	if !reflect.DeepEqual(res.Ports, []int{80, 443, 445}) {
		t.Errorf("Ports = %v", res.Ports)
	}
}

func TestRun_PortScanLimitedToSubnetsWithHosts(t *testing.T) {
	opts := testOptions(t, "10.0.0.0/23")
	opts.PortScan = true
	s := newTestScanner(t, opts)

	var log probeLog
	s.Resolver = resolverFunc(func(addr netip.Addr) (string, error) {
		if addr == netip.MustParseAddr("10.0.1.1") {
			return "only.lan", nil
		}
		return "", nil
	})
	s.Connector = connectorFunc(func(ap netip.AddrPort) bool {
		log.touch(ap.Addr())
		return true
	})

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for addr := range log.addrs {
		if addr.As4()[2] == 0 {
			t.Fatalf("%s probed although its block had no hosts", addr)
		}
	}
	if len(res.OpenPorts[80]) != 254 {
		t.Errorf("80 open = %d", len(res.OpenPorts[80]))
	}
}

func TestRun_ExcludedAddressNeverInOutput(t *testing.T) {
	opts := testOptions(t, "172.16.9.0/24", "172.16.9.50")
	opts.Ping = true
	opts.PortScan = true
	s := newTestScanner(t, opts)

	s.Resolver = resolverFunc(func(netip.Addr) (string, error) { return "x.lan", nil })
	s.Pinger = pingerFunc(func(netip.Addr) bool { return true })
	s.Connector = connectorFunc(func(netip.AddrPort) bool { return true })

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	excluded := netip.MustParseAddr("172.16.9.50")
	if _, ok := hostNames(res)[excluded.String()]; ok {
		t.Error("excluded address in hosts")
	}
	for _, a := range res.Up {
		if a == excluded {
			t.Error("excluded address in up list")
		}
	}
	for port, addrs := range res.OpenPorts {
		for _, a := range addrs {
			if a == excluded {
				t.Errorf("excluded address open on %d", port)
			}
		}
	}
	if len(res.Hosts) != 253 {
		t.Errorf("hosts = %d, want 253", len(res.Hosts))
	}
}

func TestRun_LocalAddressesExcluded(t *testing.T) {
	s := newTestScanner(t, testOptions(t, "192.168.77.0/24"))
	self := netip.MustParseAddr("192.168.77.5")
	s.LocalAddrs = func() ([]netip.Addr, error) { return []netip.Addr{self}, nil }

	var log probeLog
	s.Resolver = resolverFunc(func(addr netip.Addr) (string, error) {
		log.touch(addr)
		return "n", nil
	})

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.addrs[self] != 0 {
		t.Error("local address was probed")
	}
	if _, ok := hostNames(res)[self.String()]; ok {
		t.Error("local address reported")
	}
}

func TestRun_Deterministic(t *testing.T) {
	opts := testOptions(t, "10.20.0.0/22", "10.20.1.0/24", "10.20.2.7")
	opts.Ping = true
	opts.PortScan = true
	opts.Ports = []int{22, 80}

	run := func() *Result {
		s := newTestScanner(t, opts)
		s.Resolver = resolverFunc(func(addr netip.Addr) (string, error) {
			if addr.As4()[3]%17 == 0 {
				return "h" + addr.String(), nil
			}
			return "", errors.New("nxdomain")
		})
		s.Pinger = pingerFunc(func(addr netip.Addr) bool { return addr.As4()[3]%5 == 0 })
		s.Connector = connectorFunc(func(ap netip.AddrPort) bool {
			return int(ap.Addr().As4()[3])%7 == int(ap.Port())%7
		})
		res, err := s.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		res.Timing = Timing{}
		return res
	}

	a, b := run(), run()
	if !reflect.DeepEqual(a, b) {
		t.Fatal("two runs with identical stubs differ")
	}
}

func TestRun_MissingExclusionFile(t *testing.T) {
	opts := DefaultOptions()
	opts.Target = "10.0.0.0/24"
	opts.ExcludeFile = filepath.Join(t.TempDir(), "nope.txt")
	s := newTestScanner(t, opts)

	called := false
	s.Resolver = resolverFunc(func(netip.Addr) (string, error) {
		called = true
		return "", nil
	})

	_, err := s.Run(context.Background())
	if !errors.Is(err, ErrExclusionFileMissing) {
		t.Fatalf("expected ErrExclusionFileMissing, got %v", err)
	}
	var de *DiscoveryError
	if !errors.As(err, &de) || de.Method != MethodExclude {
		t.Errorf("expected DiscoveryError from exclude, got %v", err)
	}
	if called {
		t.Error("probes sent without exclusions loaded")
	}
}

func TestRun_MalformedExclusionLine(t *testing.T) {
	s := newTestScanner(t, testOptions(t, "10.0.0.0/24", "10.0.0.1", "not-an-ip"))

	_, err := s.Run(context.Background())
	var pe *exclude.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Line != 2 {
		t.Errorf("Line = %d, want 2", pe.Line)
	}
}

func TestRun_LocalAddrsError(t *testing.T) {
	s := newTestScanner(t, testOptions(t, "10.0.0.0/24"))
	boom := errors.New("no interfaces")
	s.LocalAddrs = func() ([]netip.Addr, error) { return nil, boom }

	if _, err := s.Run(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected wrapped interface error, got %v", err)
	}
}

func TestRun_OnBlock(t *testing.T) {
	s := newTestScanner(t, testOptions(t, "10.0.0.0/22", "10.0.3.0/24"))
	var seen []sweep.BlockResult
	s.OnBlock = func(br sweep.BlockResult) { seen = append(seen, br) }

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 4 {
		t.Fatalf("OnBlock called %d times", len(seen))
	}
	if !seen[3].Excluded {
		t.Error("last block should be reported excluded")
	}
}

type erroringPinger struct{}

func (erroringPinger) Ping(context.Context, netip.Addr, time.Duration) (bool, error) {
	return false, errors.New("listen ip4:icmp: operation not permitted")
}

func TestRun_PingFailureWarnsOnce(t *testing.T) {
	opts := testOptions(t, "10.6.0.0/23")
	opts.Ping = true
	s := newTestScanner(t, opts)
	s.Pinger = erroringPinger{}
	s.Resolver = resolverFunc(func(addr netip.Addr) (string, error) {
		if addr == netip.MustParseAddr("10.6.1.7") {
			return "named.lan", nil
		}
		return "", nil
	})

	var mu sync.Mutex
	var warnings []string
	s.OnWarning = func(format string, args ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	res, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %q, want exactly one", warnings)
	}
	if !strings.Contains(warnings[0], "operation not permitted") {
		t.Errorf("warning %q does not carry the cause", warnings[0])
	}
	if got := hostNames(res); len(got) != 1 || got["10.6.1.7"] != "named.lan" {
		t.Errorf("hosts = %v, want only the named host", got)
	}
}

func TestRun_NoWarningWhenPingWorks(t *testing.T) {
	opts := testOptions(t, "10.6.0.0/24")
	opts.Ping = true
	s := newTestScanner(t, opts)
	called := false
	s.OnWarning = func(string, ...interface{}) { called = true }

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if called {
		t.Error("OnWarning called without a ping failure")
	}
}

func TestRun_Canceled(t *testing.T) {
	s := newTestScanner(t, testOptions(t, "10.0.0.0/24"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr error
	}{
		{"defaults", func(o *Options) {}, nil},
		{"no probe method", func(o *Options) { o.ReverseDNS = false }, ErrNoProbeMethod},
		{"ping only", func(o *Options) { o.ReverseDNS = false; o.Ping = true }, nil},
		{"public target", func(o *Options) { o.Target = "8.8.8.0/24" }, network.ErrNotPrivate},
		{"garbage target", func(o *Options) { o.Target = "lan" }, network.ErrInvalidTarget},
		{"no exclusion file", func(o *Options) { o.ExcludeFile = "" }, ErrNoExclusionFile},
		{"port zero", func(o *Options) { o.PortScan = true; o.Ports = []int{0} }, ErrInvalidPort},
		{"no ports", func(o *Options) { o.PortScan = true; o.Ports = nil }, ErrInvalidPort},
		{"ports ignored without scan", func(o *Options) { o.Ports = []int{99999} }, nil},
		{"zero workers", func(o *Options) { o.PortScan = true; o.Workers = 0 }, ErrInvalidOption},
		{"block concurrency", func(o *Options) { o.BlockConcurrency = 255 }, ErrInvalidOption},
		{"negative rate", func(o *Options) { o.Rate = -1 }, ErrInvalidOption},
		{"zero ping timeout", func(o *Options) { o.Ping = true; o.PingTimeout = 0 }, ErrInvalidOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mutate(&o)
			if err := o.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Collaborators(t *testing.T) {
	opts := DefaultOptions()
	opts.Ping = true
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Resolver == nil || s.Pinger == nil || s.Connector == nil || s.LocalAddrs == nil {
		t.Errorf("missing default collaborator: %+v", s)
	}

	opts.ReverseDNS = false
	s, err = New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Resolver != nil {
		t.Error("resolver created with reverse DNS disabled")
	}

	opts.ReverseDNS = true
	opts.Resolvers = []string{"10.0.0.53"}
	if _, err := New(opts); err != nil {
		t.Errorf("New with resolvers: %v", err)
	}

	opts.ReverseDNS = false
	opts.Ping = false
	if _, err := New(opts); !errors.Is(err, ErrNoProbeMethod) {
		t.Errorf("expected ErrNoProbeMethod, got %v", err)
	}
}

func TestDiscoveryError(t *testing.T) {
	inner := errors.New("boom")
	err := &DiscoveryError{Method: MethodTCP, Message: "dial", Err: inner}
	if err.Error() != "tcp: dial: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to expose inner error")
	}
	if (&DiscoveryError{Method: MethodDNS, Message: "x"}).Error() != "dns: x" {
		t.Error("unexpected message without inner error")
	}
}
