package privscan

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/marcuoli/go-privscan/internal/scanner"
	"github.com/marcuoli/go-privscan/pkg/privscan/dns"
	"github.com/marcuoli/go-privscan/pkg/privscan/exclude"
	"github.com/marcuoli/go-privscan/pkg/privscan/hosts"
	"github.com/marcuoli/go-privscan/pkg/privscan/network"
	"github.com/marcuoli/go-privscan/pkg/privscan/ping"
	"github.com/marcuoli/go-privscan/pkg/privscan/sweep"
	"golang.org/x/time/rate"
)

var (
	// ErrNoProbeMethod is returned when neither reverse DNS nor ping is enabled.
	ErrNoProbeMethod = errors.New("at least one of reverse DNS or ping must be enabled")
	// ErrExclusionFileMissing is returned when the exclusion file does not exist.
	ErrExclusionFileMissing = exclude.ErrFileMissing
	// ErrNoExclusionFile is returned when no exclusion file path is configured.
	ErrNoExclusionFile = errors.New("no exclusion file configured")
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidOption   = errors.New("invalid option")
)

// Options configures a scan.
type Options struct {
	// Target is "A" for all private space, or an IPv4 CIDR inside it.
	Target string

	ReverseDNS bool
	Ping       bool
	PortScan   bool

	// Ports for the TCP stage (default: 80,443,445)
	Ports []int
	// ExcludeFile must exist, even if empty.
	ExcludeFile string

	PingTimeout    time.Duration
	ConnectTimeout time.Duration
	DNSTimeout     time.Duration

	// Workers bounds concurrent TCP probes.
	Workers int
	// BlockConcurrency bounds concurrent probes within one block in stage one.
	BlockConcurrency int
	// Rate caps probe launches per second across both stages; 0 disables it.
	Rate int
	// Resolvers, if set, are queried directly for PTR records instead of
	// going through the system resolver.
	Resolvers []string
	// Privileged selects raw ICMP sockets.
	Privileged bool
}

// DefaultOptions returns options for a reverse DNS only scan of all
// private space.
func DefaultOptions() Options {
	return Options{
		Target:           network.TargetAll,
		ReverseDNS:       true,
		Ports:            DefaultPorts(),
		ExcludeFile:      DefaultExcludeFile,
		PingTimeout:      DefaultPingTimeout,
		ConnectTimeout:   DefaultConnectTimeout,
		DNSTimeout:       DefaultDNSTimeout,
		Workers:          DefaultWorkers,
		BlockConcurrency: DefaultBlockConcurrency,
	}
}

// Validate checks the options without touching the network or filesystem.
func (o *Options) Validate() error {
	if !o.ReverseDNS && !o.Ping {
		return ErrNoProbeMethod
	}
	if _, err := network.ParseTarget(o.Target); err != nil {
		return err
	}
	if o.ExcludeFile == "" {
		return ErrNoExclusionFile
	}
	if o.PortScan {
		if len(o.Ports) == 0 {
			return fmt.Errorf("%w: port scan enabled without ports", ErrInvalidPort)
		}
		for _, p := range o.Ports {
			if p < 1 || p > 65535 {
				return fmt.Errorf("%w: %d", ErrInvalidPort, p)
			}
		}
		if o.ConnectTimeout <= 0 {
			return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidOption)
		}
		if o.Workers <= 0 {
			return fmt.Errorf("%w: workers must be positive", ErrInvalidOption)
		}
	}
	if o.Ping && o.PingTimeout <= 0 {
		return fmt.Errorf("%w: ping timeout must be positive", ErrInvalidOption)
	}
	if o.ReverseDNS && o.DNSTimeout <= 0 {
		return fmt.Errorf("%w: dns timeout must be positive", ErrInvalidOption)
	}
	if o.BlockConcurrency <= 0 || o.BlockConcurrency > network.HostsPerBlock {
		return fmt.Errorf("%w: block concurrency must be between 1 and %d", ErrInvalidOption, network.HostsPerBlock)
	}
	if o.Rate < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidOption)
	}
	return nil
}

// Connector opens a TCP connection; nil means the port is open.
type Connector interface {
	Connect(ctx context.Context, target netip.AddrPort, timeout time.Duration) error
}

// Scanner runs scans. The probe collaborators are created by New and may be
// replaced before Run.
type Scanner struct {
	Options Options

	Resolver   sweep.Resolver
	Pinger     sweep.Pinger
	Connector  Connector
	LocalAddrs func() ([]netip.Addr, error)

	// OnBlock, if set, receives stage-one progress.
	OnBlock func(sweep.BlockResult)
	// OnWarning, if set, receives conditions that make results incomplete
	// without aborting the run. Each condition is reported once per Run.
	OnWarning func(format string, args ...interface{})
}

// New validates opts and creates a Scanner with the default collaborators.
func New(opts Options) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Scanner{
		Options:    opts,
		Connector:  scanner.DialConnector{},
		LocalAddrs: exclude.LocalAddrs,
	}

	if opts.ReverseDNS {
		if len(opts.Resolvers) > 0 {
			r, err := dns.NewPTRResolver(opts.Resolvers)
			if err != nil {
				return nil, &DiscoveryError{Method: MethodDNS, Message: "configure resolvers", Err: err}
			}
			r.Timeout = opts.DNSTimeout
			s.Resolver = r
		} else {
			r := dns.NewSystemResolver()
			r.Timeout = opts.DNSTimeout
			s.Resolver = r
		}
	}
	if opts.Ping {
		s.Pinger = ping.NewPinger(opts.Privileged)
	}
	return s, nil
}

// Result is the outcome of a scan.
type Result struct {
	Target string
	// Blocks is the number of /24 blocks in the target.
	Blocks int
	// Subnets lists blocks with stage-one hosts, in scan order.
	Subnets []network.Block
	// Hosts is the merged host map of both stages, ascending.
	Hosts []hosts.Record
	// Up lists stage-one hosts, ascending.
	Up []netip.Addr
	// Ports is nil when the TCP stage did not run.
	Ports     []int
	OpenPorts map[int][]netip.Addr
	// Probes counts stage-one probe tasks plus stage-two connect attempts.
	Probes int
	Timing Timing
}

// Run loads the exclusions and performs the scan. Any error aborts the
// whole run; no partial result is returned.
func (s *Scanner) Run(ctx context.Context) (*Result, error) {
	opts := s.Options
	timing := Timing{Start: time.Now()}

	var local []netip.Addr
	if s.LocalAddrs != nil {
		addrs, err := s.LocalAddrs()
		if err != nil {
			return nil, &DiscoveryError{Method: MethodExclude, Message: "enumerate local addresses", Err: err}
		}
		local = addrs
	}

	excl, err := exclude.Load(opts.ExcludeFile, local)
	if err != nil {
		return nil, &DiscoveryError{Method: MethodExclude, Message: opts.ExcludeFile, Err: err}
	}
	debugLog(MethodExclude, "%d addresses and %d ranges excluded", len(excl.Addrs()), len(excl.Prefixes()))

	blocks, err := network.Partition(opts.Target)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), opts.Rate)
	}

	var pingWarn sync.Once
	onPingError := func(addr netip.Addr, err error) {
		pingWarn.Do(func() {
			debugLog(MethodICMP, "%s: %v", addr, err)
			if s.OnWarning != nil {
				s.OnWarning("ICMP echo failing (%v); ping results will be empty", err)
			}
		})
	}

	hm := hosts.NewMap()
	debugLog(MethodSweep, "stage one: %d blocks, reverse dns=%t ping=%t", len(blocks), opts.ReverseDNS, opts.Ping)
	eng := sweep.New(s.Resolver, s.Pinger, excl, hm, sweep.Options{
		ReverseDNS:  opts.ReverseDNS,
		Ping:        opts.Ping,
		PingTimeout: opts.PingTimeout,
		Concurrency: opts.BlockConcurrency,
		Limiter:     limiter,
		OnPingError: onPingError,
		OnBlock: func(br sweep.BlockResult) {
			if br.Found > 0 {
				debugLog(MethodSweep, "%s: %d hosts", br.Block, br.Found)
			}
			if s.OnBlock != nil {
				s.OnBlock(br)
			}
		},
	})
	swept, err := eng.Run(ctx, blocks)
	if err != nil {
		return nil, err
	}
	timing.SweepEnd = time.Now()

	res := &Result{
		Target:  opts.Target,
		Blocks:  len(blocks),
		Subnets: swept.Subnets,
		Up:      slices.Clone(swept.Up),
		Probes:  swept.Probed,
	}
	slices.SortFunc(res.Up, func(a, b netip.Addr) int { return a.Compare(b) })

	if opts.PortScan {
		debugLog(MethodTCP, "stage two: %d blocks, ports %v", len(swept.Subnets), opts.Ports)
		scanned, err := scanner.Scan(ctx, swept.Subnets, excl, s.Connector, hm, scanner.Options{
			Ports:   opts.Ports,
			Timeout: opts.ConnectTimeout,
			Workers: opts.Workers,
			Limiter: limiter,
			Debug: func(format string, args ...interface{}) {
				debugLogVerbose(MethodTCP, format, args...)
			},
		})
		if err != nil {
			return nil, err
		}
		res.Ports = scanned.Ports
		res.OpenPorts = scanned.Open
		res.Probes += scanned.Probes
		if len(scanned.Added) > 0 {
			debugLog(MethodTCP, "%d hosts found only by open ports", len(scanned.Added))
		}
	}

	res.Hosts = hm.Records()
	timing.End = time.Now()
	res.Timing = timing
	return res, nil
}
