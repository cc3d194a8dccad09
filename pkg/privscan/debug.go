// Package privscan: Debug logging support.
package privscan

import "sync"

// DebugLevel represents the verbosity level for debug logging.
type DebugLevel int

const (
	// DebugOff disables all debug logging.
	DebugOff DebugLevel = iota
	// DebugBasic logs stage and block progress.
	DebugBasic
	// DebugVerbose also logs individual probe failures.
	DebugVerbose
)

// DebugLogger is a callback function for debug logging.
// The method parameter indicates which component generated the message.
type DebugLogger func(method DiscoveryMethod, format string, args ...interface{})

var (
	debugLogger DebugLogger
	debugLevel  DebugLevel
	debugMu     sync.RWMutex
)

// SetDebugLogger sets a custom debug logger callback.
// Pass nil to disable debug logging.
func SetDebugLogger(logger DebugLogger) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugLogger = logger
}

// SetDebugLevel sets the debug verbosity level.
func SetDebugLevel(level DebugLevel) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugLevel = level
}

// GetDebugLevel returns the current debug level.
func GetDebugLevel() DebugLevel {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugLevel
}

func logAt(min DebugLevel, method DiscoveryMethod, format string, args ...interface{}) {
	debugMu.RLock()
	logger := debugLogger
	level := debugLevel
	debugMu.RUnlock()

	if logger != nil && level >= min {
		logger(method, format, args...)
	}
}

func debugLog(method DiscoveryMethod, format string, args ...interface{}) {
	logAt(DebugBasic, method, format, args...)
}

func debugLogVerbose(method DiscoveryMethod, format string, args ...interface{}) {
	logAt(DebugVerbose, method, format, args...)
}
