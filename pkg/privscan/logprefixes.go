// Package privscan: Log prefix constants for consistent log tagging.
package privscan

// Format follows [Component] or [Component:Subcomponent].
const (
	LogPrefixScan    = "[Scan]"
	LogPrefixDNS     = "[Scan:DNS]"
	LogPrefixICMP    = "[Scan:ICMP]"
	LogPrefixTCP     = "[Scan:TCP]"
	LogPrefixSweep   = "[Scan:Sweep]"
	LogPrefixExclude = "[Scan:Exclude]"
)

// MethodToPrefix returns the log prefix for a given method.
func MethodToPrefix(method DiscoveryMethod) string {
	switch method {
	case MethodDNS:
		return LogPrefixDNS
	case MethodICMP:
		return LogPrefixICMP
	case MethodTCP:
		return LogPrefixTCP
	case MethodSweep:
		return LogPrefixSweep
	case MethodExclude:
		return LogPrefixExclude
	default:
		return LogPrefixScan
	}
}
