// Package sweep implements the first scan stage: reverse DNS and optional
// ICMP liveness probes over a sequence of /24 blocks.
//
// Blocks are processed strictly in order. Within a block every non-excluded
// host gets its own probe task; all tasks of a block finish before the block
// result is final and the next block starts, so at most one block worth of
// probes is ever in flight.
package sweep

import (
	"context"
	"errors"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/marcuoli/go-privscan/pkg/privscan/hosts"
	"github.com/marcuoli/go-privscan/pkg/privscan/network"
	syncutil "github.com/projectdiscovery/utils/sync"
	"golang.org/x/time/rate"
)

// DefaultPingTimeout is the wait for a single echo reply.
const DefaultPingTimeout = 200 * time.Millisecond

var (
	// ErrNoResolver is returned when reverse DNS is enabled without a resolver.
	ErrNoResolver = errors.New("reverse DNS enabled but no resolver configured")
	// ErrNoPinger is returned when ping is enabled without a pinger.
	ErrNoPinger = errors.New("ping enabled but no pinger configured")
)

// DebugLogger is a callback for debug logging.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Resolver maps an address to its hostname; "" means no name.
type Resolver interface {
	LookupAddr(ctx context.Context, addr netip.Addr) (string, error)
}

// Pinger reports whether addr answered an ICMP echo within timeout.
type Pinger interface {
	Ping(ctx context.Context, addr netip.Addr, timeout time.Duration) (bool, error)
}

// Exclusions is the read-only exclusion view consulted before any probe.
type Exclusions interface {
	Contains(addr netip.Addr) bool
	ContainsBlock(block network.Block) bool
}

// Options configures the sweep.
type Options struct {
	ReverseDNS  bool
	Ping        bool
	PingTimeout time.Duration
	// Concurrency caps probe tasks per block. Values <= 0 or above
	// network.HostsPerBlock mean the whole block at once.
	Concurrency int
	// Limiter, if set, paces probe task launches.
	Limiter *rate.Limiter
	// OnBlock, if set, is called after each block is finalized.
	OnBlock func(BlockResult)
	// OnPingError, if set, receives local ping failures such as a missing
	// raw socket permission. The address still counts as not answering.
	OnPingError func(addr netip.Addr, err error)
}

// BlockResult summarizes one processed block.
type BlockResult struct {
	Block    network.Block
	Index    int
	Total    int
	Excluded bool
	Probed   int
	Found    int
}

// Result is the output of a sweep.
type Result struct {
	// Subnets lists blocks with at least one discovered host, in scan order.
	Subnets []network.Block
	// Up lists discovered addresses in scan order.
	Up []netip.Addr
	// Probed counts probe tasks launched.
	Probed int
}

// Engine runs the sweep. Discovered hosts are written to Hosts.
type Engine struct {
	Resolver   Resolver
	Pinger     Pinger
	Exclusions Exclusions
	Hosts      *hosts.Map
	Options    Options
}

// New creates a sweep engine.
func New(resolver Resolver, pinger Pinger, excl Exclusions, h *hosts.Map, opts Options) *Engine {
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}
	if opts.Concurrency <= 0 || opts.Concurrency > network.HostsPerBlock {
		opts.Concurrency = network.HostsPerBlock
	}
	if h == nil {
		h = hosts.NewMap()
	}
	return &Engine{
		Resolver:   resolver,
		Pinger:     pinger,
		Exclusions: excl,
		Hosts:      h,
		Options:    opts,
	}
}

// Run sweeps blocks in order. It only fails on misconfiguration or context
// cancellation; individual probe failures count as "no host".
func (e *Engine) Run(ctx context.Context, blocks []network.Block) (*Result, error) {
	if e.Options.ReverseDNS && e.Resolver == nil {
		return nil, ErrNoResolver
	}
	if e.Options.Ping && e.Pinger == nil {
		return nil, ErrNoPinger
	}

	res := &Result{}
	for i, block := range blocks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		br := BlockResult{Block: block, Index: i, Total: len(blocks)}
		if e.excluded(block) {
			br.Excluded = true
			debugLog("%s: excluded, skipping", block)
		} else {
			up, probed, err := e.sweepBlock(ctx, block)
			if err != nil {
				return nil, err
			}
			br.Probed = probed
			br.Found = len(up)
			res.Probed += probed
			if len(up) > 0 {
				res.Subnets = append(res.Subnets, block)
				res.Up = append(res.Up, up...)
			}
		}

		if e.Options.OnBlock != nil {
			e.Options.OnBlock(br)
		}
	}
	return res, nil
}

func (e *Engine) excluded(block network.Block) bool {
	return e.Exclusions != nil && e.Exclusions.ContainsBlock(block)
}

func (e *Engine) excludedAddr(addr netip.Addr) bool {
	return e.Exclusions != nil && e.Exclusions.Contains(addr)
}

// sweepBlock probes every non-excluded host of block and waits for all of
// them. It returns the discovered addresses in ascending order.
func (e *Engine) sweepBlock(ctx context.Context, block network.Block) ([]netip.Addr, int, error) {
	awg, err := syncutil.New(syncutil.WithSize(e.Options.Concurrency))
	if err != nil {
		return nil, 0, err
	}

	// hasHosts and live belong to this block only; each task writes its own slot.
	var hasHosts atomic.Bool
	var live [network.LastHost + 1]bool
	probed := 0

	for _, addr := range block.Hosts() {
		if e.excludedAddr(addr) {
			debugLog("%s: excluded, skipping", addr)
			continue
		}
		if e.Options.Limiter != nil {
			if err := e.Options.Limiter.Wait(ctx); err != nil {
				awg.Wait()
				return nil, 0, err
			}
		}

		probed++
		awg.Add()
		go func(addr netip.Addr) {
			defer awg.Done()
			name, ok := e.probe(ctx, addr)
			if !ok {
				return
			}
			e.Hosts.Set(addr, name)
			live[addr.As4()[3]] = true
			hasHosts.Store(true)
		}(addr)
	}
	awg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if !hasHosts.Load() {
		return nil, probed, nil
	}

	var up []netip.Addr
	for o := network.FirstHost; o <= network.LastHost; o++ {
		if live[o] {
			up = append(up, block.Host(byte(o)))
		}
	}
	return up, probed, nil
}

// probe classifies a single address. A resolved name is enough; without one
// the host only counts as live if ping is enabled and it answers.
func (e *Engine) probe(ctx context.Context, addr netip.Addr) (string, bool) {
	if e.Options.ReverseDNS {
		name, err := e.Resolver.LookupAddr(ctx, addr)
		if err != nil {
			debugLog("%s: reverse lookup failed: %v", addr, err)
		} else if name != "" {
			return name, true
		}
	}

	if !e.Options.Ping {
		return "", false
	}
	ok, err := e.Pinger.Ping(ctx, addr, e.Options.PingTimeout)
	if err != nil {
		debugLog("%s: ping failed: %v", addr, err)
		if e.Options.OnPingError != nil {
			e.Options.OnPingError(addr, err)
		}
		return "", false
	}
	if !ok {
		return "", false
	}
	return hosts.Unknown, true
}
