// Package scanner runs the TCP connect stage over blocks that already
// produced hosts. An address counts as open on a port if the connection is
// accepted within the timeout; no raw sockets or admin privileges are needed.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/marcuoli/go-privscan/pkg/privscan/hosts"
	"github.com/marcuoli/go-privscan/pkg/privscan/network"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = time.Second
	DefaultWorkers = 256
)

// DefaultPorts is the probe port set used when none is configured.
var DefaultPorts = []int{80, 443, 445}

var ErrNoPorts = errors.New("no ports provided")

// Connector opens a TCP connection to target. A nil error means the port
// accepted the connection.
type Connector interface {
	Connect(ctx context.Context, target netip.AddrPort, timeout time.Duration) error
}

// DialConnector connects with a plain net.Dialer and closes immediately.
type DialConnector struct{}

func (DialConnector) Connect(ctx context.Context, target netip.AddrPort, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp4", target.String())
	if err != nil {
		return err
	}
	return conn.Close()
}

// Exclusions is consulted once per address before any of its ports.
type Exclusions interface {
	Contains(addr netip.Addr) bool
}

type Options struct {
	Ports   []int
	Timeout time.Duration
	Workers int
	Limiter *rate.Limiter
	// Debug receives per-probe failures when set.
	Debug func(format string, args ...interface{})
}

// Result holds the open-address list of every scanned port.
type Result struct {
	Ports []int
	Open  map[int][]netip.Addr
	// Added lists addresses that were first seen in this stage.
	Added []netip.Addr
	// Probes counts connect attempts.
	Probes int
}

// OpenAddrs returns the ascending list of addresses with port open.
func (r *Result) OpenAddrs(port int) []netip.Addr {
	if r == nil {
		return nil
	}
	return r.Open[port]
}

type target struct {
	addr netip.Addr
	port int
}

// Scan probes every host of blocks on every port in opts.Ports. Addresses
// with an open port are added to h as hosts.Unknown unless already present.
// All probes share a single worker pool and finish before Scan returns.
func Scan(ctx context.Context, blocks []network.Block, excl Exclusions, conn Connector, h *hosts.Map, opts Options) (*Result, error) {
	if len(opts.Ports) == 0 {
		return nil, ErrNoPorts
	}
	ports := make([]int, 0, len(opts.Ports))
	for _, p := range opts.Ports {
		if p < 1 || p > 65535 {
			return nil, fmt.Errorf("invalid port %d", p)
		}
		if !slices.Contains(ports, p) {
			ports = append(ports, p)
		}
	}
	opts.Ports = ports
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if conn == nil {
		conn = DialConnector{}
	}
	if h == nil {
		h = hosts.NewMap()
	}
	debug := opts.Debug
	if debug == nil {
		debug = func(string, ...interface{}) {}
	}

	jobs := make(chan target, opts.Workers)
	results := make(chan target, opts.Workers)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for t := range jobs {
			ap := netip.AddrPortFrom(t.addr, uint16(t.port))
			if err := conn.Connect(ctx, ap, opts.Timeout); err != nil {
				debug("%s: %v", ap, err)
				continue
			}
			results <- t
		}
	}

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go worker()
	}

	// The collector is the only writer of open and added.
	open := make(map[int][]netip.Addr, len(opts.Ports))
	var added []netip.Addr
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for t := range results {
			open[t.port] = append(open[t.port], t.addr)
			if h.SetIfAbsent(t.addr) {
				added = append(added, t.addr)
			}
		}
	}()

	probes, err := enqueue(ctx, jobs, blocks, excl, opts)
	close(jobs)
	wg.Wait()
	close(results)
	<-collected

	if err != nil {
		return nil, err
	}

	res := &Result{
		Ports:  opts.Ports,
		Open:   make(map[int][]netip.Addr, len(opts.Ports)),
		Probes: probes,
	}
	for _, p := range opts.Ports {
		addrs := open[p]
		slices.SortFunc(addrs, func(a, b netip.Addr) int { return a.Compare(b) })
		res.Open[p] = slices.Compact(addrs)
	}
	slices.SortFunc(added, func(a, b netip.Addr) int { return a.Compare(b) })
	res.Added = added
	return res, nil
}

func enqueue(ctx context.Context, jobs chan<- target, blocks []network.Block, excl Exclusions, opts Options) (int, error) {
	n := 0
	for _, b := range blocks {
		for _, addr := range b.Hosts() {
			if excl != nil && excl.Contains(addr) {
				continue
			}
			for _, p := range opts.Ports {
				if opts.Limiter != nil {
					if err := opts.Limiter.Wait(ctx); err != nil {
						return n, err
					}
				}
				select {
				case <-ctx.Done():
					return n, ctx.Err()
				case jobs <- target{addr: addr, port: p}:
					n++
				}
			}
		}
	}
	return n, ctx.Err()
}
