package privscan

import (
	"github.com/marcuoli/go-privscan/pkg/privscan/dns"
	"github.com/marcuoli/go-privscan/pkg/privscan/exclude"
	"github.com/marcuoli/go-privscan/pkg/privscan/ping"
	"github.com/marcuoli/go-privscan/pkg/privscan/sweep"
)

// Subpackage hooks route through the package logger. Per-probe noise from
// dns and ping only shows at DebugVerbose.
func init() {
	exclude.DebugLogger = func(format string, args ...interface{}) {
		debugLog(MethodExclude, format, args...)
	}
	sweep.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(MethodSweep, format, args...)
	}
	dns.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(MethodDNS, format, args...)
	}
	ping.DebugLogger = func(format string, args ...interface{}) {
		debugLogVerbose(MethodICMP, format, args...)
	}
}
