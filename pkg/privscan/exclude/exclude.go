// Package exclude loads the set of addresses and subnets that must never be probed.
package exclude

import (
	"bufio"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/marcuoli/go-privscan/pkg/privscan/network"
	fileutil "github.com/projectdiscovery/utils/file"
	"go4.org/netipx"
)

// ErrFileMissing is returned when the exclusion file does not exist.
var ErrFileMissing = errors.New("exclusion file not found")

// ErrUnrecognized is wrapped by ParseError.
var ErrUnrecognized = errors.New("unrecognized exclusion entry")

// DebugLogger is a callback for debug logging.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// ParseError reports an exclusion line that is neither an IPv4 address nor
// an IPv4 CIDR with a /8, /16 or /24 mask.
type ParseError struct {
	Line int
	Text string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("exclusion line %d: %v: %q", e.Line, ErrUnrecognized, e.Text)
}

func (e *ParseError) Unwrap() error {
	return ErrUnrecognized
}

// Builder accumulates exclusions. It is not safe for concurrent use.
type Builder struct {
	ips      netipx.IPSetBuilder
	addrs    []netip.Addr
	prefixes []netip.Prefix
	seen     map[netip.Prefix]struct{}
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{seen: make(map[netip.Prefix]struct{})}
}

// AddLine parses a single exclusion entry. Blank lines are ignored.
func (b *Builder) AddLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.Contains(line, "/") {
		addr, err := netip.ParseAddr(line)
		if err != nil || !addr.Is4() {
			return ErrUnrecognized
		}
		b.AddAddr(addr)
		return nil
	}

	p, err := netip.ParsePrefix(line)
	if err != nil || !p.Addr().Is4() {
		return ErrUnrecognized
	}
	switch p.Bits() {
	case 24:
		b.AddBlock(network.NewBlock(p.Addr()))
	case 8, 16:
		// Wider ranges are excluded whole, block by block.
		debugLog("expanding exclusion %s to %d blocks", p.Masked(), 1<<(24-p.Bits()))
		b.addPrefix(p.Masked())
	default:
		return ErrUnrecognized
	}
	return nil
}

// AddAddr excludes a single IPv4 address.
func (b *Builder) AddAddr(addr netip.Addr) {
	addr = addr.Unmap()
	if !addr.Is4() {
		return
	}
	p := netip.PrefixFrom(addr, 32)
	if _, ok := b.seen[p]; ok {
		return
	}
	b.seen[p] = struct{}{}
	b.ips.Add(addr)
	b.addrs = append(b.addrs, addr)
}

// AddBlock excludes a whole /24 block.
func (b *Builder) AddBlock(block network.Block) {
	b.addPrefix(block.Prefix())
}

func (b *Builder) addPrefix(p netip.Prefix) {
	if _, ok := b.seen[p]; ok {
		return
	}
	b.seen[p] = struct{}{}
	b.ips.AddPrefix(p)
	b.prefixes = append(b.prefixes, p)
}

// Build returns the immutable exclusion set.
func (b *Builder) Build() (*Set, error) {
	ips, err := b.ips.IPSet()
	if err != nil {
		return nil, fmt.Errorf("build exclusion set: %w", err)
	}
	return &Set{
		ips:      ips,
		addrs:    append([]netip.Addr(nil), b.addrs...),
		prefixes: append([]netip.Prefix(nil), b.prefixes...),
	}, nil
}

// ReadFile parses an exclusion file into a new Builder. A missing file or any
// unrecognized line is an error.
func ReadFile(path string) (*Builder, error) {
	if !fileutil.FileExists(path) {
		return nil, fmt.Errorf("%w: %s", ErrFileMissing, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exclusion file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	b := NewBuilder()
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		line := scanner.Text()
		if err := b.AddLine(line); err != nil {
			return nil, &ParseError{Line: n, Text: line}
		}
	}
	// a read error or an overlong line must not leave a truncated set
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read exclusion file %s after line %d: %w", path, n, err)
	}
	debugLog("loaded %d addresses and %d ranges from %s", len(b.addrs), len(b.prefixes), path)
	return b, nil
}

// Load reads the exclusion file and adds the given local addresses.
func Load(path string, local []netip.Addr) (*Set, error) {
	b, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	for _, addr := range local {
		b.AddAddr(addr)
	}
	return b.Build()
}

// Set is a read-only exclusion set. The zero value and nil exclude nothing.
// A Set has no consumption state, so one instance can serve every stage.
type Set struct {
	ips      *netipx.IPSet
	addrs    []netip.Addr
	prefixes []netip.Prefix
}

// Contains reports whether addr is excluded, individually or through a range.
func (s *Set) Contains(addr netip.Addr) bool {
	if s == nil || s.ips == nil {
		return false
	}
	return s.ips.Contains(addr)
}

// ContainsBlock reports whether the entire block is excluded.
func (s *Set) ContainsBlock(block network.Block) bool {
	if s == nil || s.ips == nil {
		return false
	}
	return s.ips.ContainsPrefix(block.Prefix())
}

// Addrs returns the individually excluded addresses in insertion order.
func (s *Set) Addrs() []netip.Addr {
	if s == nil {
		return nil
	}
	return s.addrs
}

// Prefixes returns the excluded ranges (/24 blocks and wider) in insertion order.
func (s *Set) Prefixes() []netip.Prefix {
	if s == nil {
		return nil
	}
	return s.prefixes
}
