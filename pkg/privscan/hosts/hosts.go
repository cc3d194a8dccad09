// Package hosts holds the scan-scoped map of discovered hosts.
package hosts

import (
	"net/netip"
	"slices"

	mapsutil "github.com/projectdiscovery/utils/maps"
)

// Unknown is recorded for a live host without a resolvable name.
const Unknown = "unknown"

// Record is a discovered host.
type Record struct {
	Addr     netip.Addr
	Hostname string
}

// Map is safe for concurrent use. Entries are never removed; writing the same
// address twice is an overwrite with equivalent data.
//
// SetIfAbsent is a get followed by a set. It is only called from the single
// result collector of the TCP stage, after all sweep writers have finished.
type Map struct {
	// m is never switched to read-only (SyncLockMap.Lock is not called and
	// the field is unexported), so its Set cannot return ErrReadOnly.
	m *mapsutil.SyncLockMap[netip.Addr, string]
}

// NewMap returns an empty host map.
func NewMap() *Map {
	return &Map{m: mapsutil.NewSyncLockMap[netip.Addr, string]()}
}

// Set records addr with the given hostname. An empty hostname is stored as Unknown.
func (h *Map) Set(addr netip.Addr, hostname string) {
	if hostname == "" {
		hostname = Unknown
	}
	_ = h.m.Set(addr, hostname)
}

// SetIfAbsent records addr as Unknown unless it is already present.
// It reports whether a new entry was added.
func (h *Map) SetIfAbsent(addr netip.Addr) bool {
	if _, ok := h.m.Get(addr); ok {
		return false
	}
	_ = h.m.Set(addr, Unknown)
	return true
}

// Get returns the hostname recorded for addr.
func (h *Map) Get(addr netip.Addr) (string, bool) {
	return h.m.Get(addr)
}

// Has reports whether addr was recorded.
func (h *Map) Has(addr netip.Addr) bool {
	_, ok := h.m.Get(addr)
	return ok
}

// Len returns the number of recorded hosts.
func (h *Map) Len() int {
	n := 0
	_ = h.m.Iterate(func(netip.Addr, string) error {
		n++
		return nil
	})
	return n
}

// Records returns a snapshot of all hosts in ascending address order.
func (h *Map) Records() []Record {
	var res []Record
	_ = h.m.Iterate(func(addr netip.Addr, name string) error {
		res = append(res, Record{Addr: addr, Hostname: name})
		return nil
	})
	slices.SortFunc(res, func(a, b Record) int {
		return a.Addr.Compare(b.Addr)
	})
	return res
}
