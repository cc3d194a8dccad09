package runner

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/marcuoli/go-privscan/pkg/privscan"
	"github.com/marcuoli/go-privscan/pkg/privscan/network"
	"github.com/marcuoli/go-privscan/pkg/privscan/output"
	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
	envutil "github.com/projectdiscovery/utils/env"
)

var (
	ExclusionsEnv = envutil.GetEnvOrDefault("PRIVSCAN_EXCLUSIONS", privscan.DefaultExcludeFile)
	OutputEnv     = envutil.GetEnvOrDefault("PRIVSCAN_OUTPUT", output.DefaultDir)
)

// Options contains the command line configuration.
type Options struct {
	ReverseDNS  bool
	Target      string
	Ping        bool
	PortScan    bool
	Ports       goflags.StringSlice
	ExcludeFile string
	Output      string

	Workers          int
	BlockConcurrency int
	RateLimit        int
	PingTimeout      time.Duration
	ConnectTimeout   time.Duration
	DNSTimeout       time.Duration
	Resolvers        goflags.StringSlice
	Privileged       bool

	Verbose bool
	Debug   bool
	Silent  bool
	NoColor bool
	Version bool
}

// ParseOptions parses the command line flags provided by a user
func ParseOptions() *Options {
	options := &Options{}

	flagSet := goflags.NewFlagSet()
	flagSet.SetDescription(`privscan discovers hosts in private IPv4 address space using reverse DNS, ICMP echo and TCP connect probes`)

	defaultPorts := make([]string, 0, 3)
	for _, p := range privscan.DefaultPorts() {
		defaultPorts = append(defaultPorts, strconv.Itoa(p))
	}

	flagSet.CreateGroup("input", "Input",
		flagSet.StringVarP(&options.Target, "subnets", "s", network.TargetAll, "subnets to scan: A for all private ranges, or a private CIDR (/8 to /24)"),
		flagSet.StringVarP(&options.ExcludeFile, "exclusions", "e", ExclusionsEnv, "exclusion file (IPs or /8, /16, /24 CIDRs, one per line)"),
	)

	flagSet.CreateGroup("probes", "Probes",
		flagSet.BoolVarP(&options.ReverseDNS, "reverse-dns", "r", false, "resolve hostnames with reverse DNS"),
		flagSet.BoolVarP(&options.Ping, "ping", "w", false, "send an ICMP echo to hosts without a hostname"),
		flagSet.BoolVarP(&options.PortScan, "port-scan", "ps", false, "TCP connect scan the subnets that had hosts"),
		flagSet.StringSliceVarP(&options.Ports, "ports", "p", defaultPorts, "ports for the TCP connect scan", goflags.CommaSeparatedStringSliceOptions),
		flagSet.StringSliceVarP(&options.Resolvers, "resolvers", "dr", nil, "DNS servers to query directly for PTR records", goflags.CommaSeparatedStringSliceOptions),
		flagSet.BoolVar(&options.Privileged, "privileged", false, "use raw ICMP sockets (requires root or CAP_NET_RAW)"),
	)

	flagSet.CreateGroup("rate", "Rate-Limit",
		flagSet.IntVarP(&options.Workers, "workers", "c", privscan.DefaultWorkers, "number of concurrent TCP probes"),
		flagSet.IntVarP(&options.BlockConcurrency, "block-concurrency", "bc", privscan.DefaultBlockConcurrency, "concurrent probes within a /24 block"),
		flagSet.IntVarP(&options.RateLimit, "rate-limit", "rl", 0, "maximum probes per second (0 = unlimited)"),
		flagSet.DurationVarP(&options.PingTimeout, "ping-timeout", "pt", privscan.DefaultPingTimeout, "ICMP echo reply timeout"),
		flagSet.DurationVarP(&options.ConnectTimeout, "connect-timeout", "ct", privscan.DefaultConnectTimeout, "TCP connect timeout"),
		flagSet.DurationVarP(&options.DNSTimeout, "dns-timeout", "dt", privscan.DefaultDNSTimeout, "reverse DNS timeout"),
	)

	flagSet.CreateGroup("output", "Output",
		flagSet.StringVarP(&options.Output, "output", "o", OutputEnv, "output directory"),
		flagSet.BoolVar(&options.Silent, "silent", false, "show only results"),
		flagSet.BoolVarP(&options.Verbose, "verbose", "v", false, "show verbose output"),
		flagSet.BoolVar(&options.Debug, "debug", false, "show probe level debug output"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable output content coloring (ANSI escape codes)"),
		flagSet.BoolVar(&options.Version, "version", false, "show version of the project"),
	)

	if err := flagSet.Parse(); err != nil {
		gologger.Fatal().Msgf("%s\n", err)
	}

	options.configureOutput()

	showBanner()

	if options.Version {
		gologger.Info().Msgf("Current Version: %s\n", privscan.Version)
		os.Exit(0)
	}

	if _, err := options.ScanOptions(); err != nil {
		gologger.Fatal().Msgf("Program exiting: %s\n", err)
	}

	return options
}

// configureOutput configures the output on the screen
func (options *Options) configureOutput() {
	gologger.DefaultLogger.SetMaxLevel(options.maxLevel())
	if options.NoColor {
		gologger.DefaultLogger.SetFormatter(formatter.NewCLI(true))
	}
}

// maxLevel picks the logger level. gologger orders Verbose above Debug and
// Warning above Info, so -debug maps to Verbose and the default to Warning.
func (options *Options) maxLevel() levels.Level {
	switch {
	case options.Silent:
		return levels.LevelSilent
	case options.Verbose, options.Debug:
		return levels.LevelVerbose
	default:
		return levels.LevelWarning
	}
}

// ScanOptions converts the command line options into validated scan options.
func (options *Options) ScanOptions() (privscan.Options, error) {
	opts := privscan.Options{
		Target:           options.Target,
		ReverseDNS:       options.ReverseDNS,
		Ping:             options.Ping,
		PortScan:         options.PortScan,
		ExcludeFile:      options.ExcludeFile,
		PingTimeout:      options.PingTimeout,
		ConnectTimeout:   options.ConnectTimeout,
		DNSTimeout:       options.DNSTimeout,
		Workers:          options.Workers,
		BlockConcurrency: options.BlockConcurrency,
		Rate:             options.RateLimit,
		Resolvers:        trimAll(options.Resolvers),
		Privileged:       options.Privileged,
	}
	ports, err := parsePorts(options.Ports)
	if err != nil {
		return opts, err
	}
	opts.Ports = ports
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// parsePorts converts port strings to numbers, dropping duplicates and
// keeping the first occurrence order.
func parsePorts(values []string) ([]int, error) {
	var ports []int
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("%w: %q", privscan.ErrInvalidPort, v)
		}
		if !slices.Contains(ports, p) {
			ports = append(ports, p)
		}
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("%w: ports list is empty", privscan.ErrInvalidPort)
	}
	return ports, nil
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
