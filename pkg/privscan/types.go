// Package privscan discovers live hosts in private IPv4 address space.
//
// A scan runs in two stages over /24 blocks:
//   - Stage one: reverse DNS for every host of every block, with an optional
//     ICMP echo for hosts that have no name. Blocks are processed one after
//     another.
//   - Stage two (optional): TCP connect probes on a small port set, limited
//     to the blocks that produced hosts in stage one.
//
// Exclusions (single addresses, whole blocks, and the scanning machine's own
// addresses) are never probed and never reported.
package privscan

import (
	"slices"
	"time"

	"github.com/marcuoli/go-privscan/internal/scanner"
	"github.com/marcuoli/go-privscan/pkg/privscan/dns"
	"github.com/marcuoli/go-privscan/pkg/privscan/network"
	"github.com/marcuoli/go-privscan/pkg/privscan/ping"
)

// DiscoveryMethod identifies the component that produced a result or log line.
type DiscoveryMethod string

const (
	MethodDNS     DiscoveryMethod = "dns"
	MethodICMP    DiscoveryMethod = "icmp"
	MethodTCP     DiscoveryMethod = "tcp"
	MethodSweep   DiscoveryMethod = "sweep"   // stage-one block scheduling
	MethodExclude DiscoveryMethod = "exclude" // exclusion loading
)

// DiscoveryError represents an error during discovery.
type DiscoveryError struct {
	Method  DiscoveryMethod
	Message string
	Err     error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return string(e.Method) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Method) + ": " + e.Message
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Defaults.
const (
	DefaultExcludeFile      = "exclusions.txt"
	DefaultPingTimeout      = ping.DefaultTimeout
	DefaultConnectTimeout   = scanner.DefaultTimeout
	DefaultDNSTimeout       = dns.DefaultTimeout
	DefaultWorkers          = scanner.DefaultWorkers
	DefaultBlockConcurrency = network.HostsPerBlock
)

// DefaultPorts returns the stage-two port set.
func DefaultPorts() []int {
	return slices.Clone(scanner.DefaultPorts)
}

// Timing of a finished run.
type Timing struct {
	Start    time.Time
	SweepEnd time.Time
	End      time.Time
}

// Duration returns the total run time.
func (t Timing) Duration() time.Duration {
	return t.End.Sub(t.Start)
}
