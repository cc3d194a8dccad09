// Package network provides private address space partitioning into /24 blocks.
package network

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// TargetAll selects every RFC 1918 range.
const TargetAll = "A"

const (
	// FirstHost is the lowest probed host octet of a block.
	FirstHost = 1
	// LastHost is the highest probed host octet of a block.
	LastHost = 254
	// HostsPerBlock is the number of probed addresses in a block.
	HostsPerBlock = LastHost - FirstHost + 1
)

// PrivateRanges are the RFC 1918 ranges in scan order.
var PrivateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
}

var (
	// ErrInvalidTarget is returned for a target that is neither "A" nor an IPv4 CIDR.
	ErrInvalidTarget = errors.New("invalid scan target")
	// ErrNotPrivate is returned for a CIDR that is not inside private address space.
	ErrNotPrivate = errors.New("target is not inside private address space")
	// ErrPrefixLength is returned for a CIDR shorter than /8 or longer than /24.
	ErrPrefixLength = errors.New("target prefix length must be between /8 and /24")
)

// Block is a /24 range identified by its base address a.b.c.0.
type Block struct {
	base uint32
}

// NewBlock returns the block containing addr.
func NewBlock(addr netip.Addr) Block {
	return Block{base: addrToUint32(addr) &^ 0xff}
}

// Base returns the a.b.c.0 address of the block.
func (b Block) Base() netip.Addr {
	return uint32ToAddr(b.base)
}

// Prefix returns the block as a /24 prefix.
func (b Block) Prefix() netip.Prefix {
	return netip.PrefixFrom(b.Base(), 24)
}

// Host returns the address with the given last octet inside the block.
func (b Block) Host(octet byte) netip.Addr {
	return uint32ToAddr(b.base | uint32(octet))
}

// Hosts returns the probed addresses .1 through .254 in ascending order.
// The network (.0) and broadcast (.255) addresses are never included.
func (b Block) Hosts() []netip.Addr {
	res := make([]netip.Addr, 0, HostsPerBlock)
	for o := FirstHost; o <= LastHost; o++ {
		res = append(res, b.Host(byte(o)))
	}
	return res
}

// Contains reports whether addr is inside the block.
func (b Block) Contains(addr netip.Addr) bool {
	return addr.Is4() && addrToUint32(addr)&^0xff == b.base
}

// String renders the block as a.b.c.0/24.
func (b Block) String() string {
	return b.Prefix().String()
}

// IsAllTarget reports whether target selects the whole private address space.
func IsAllTarget(target string) bool {
	t := strings.TrimSpace(target)
	return strings.EqualFold(t, TargetAll) || strings.EqualFold(t, "all")
}

// ParseTarget validates a scan target and returns the prefixes it covers.
func ParseTarget(target string) ([]netip.Prefix, error) {
	if IsAllTarget(target) {
		return PrivateRanges, nil
	}
	p, err := netip.ParsePrefix(strings.TrimSpace(target))
	if err != nil || !p.Addr().Is4() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	p = p.Masked()
	if p.Bits() < 8 || p.Bits() > 24 {
		return nil, fmt.Errorf("%w: %s", ErrPrefixLength, p)
	}
	if !IsPrivatePrefix(p) {
		return nil, fmt.Errorf("%w: %s", ErrNotPrivate, p)
	}
	return []netip.Prefix{p}, nil
}

// Partition returns the ordered /24 blocks covering target.
func Partition(target string) ([]Block, error) {
	prefixes, err := ParseTarget(target)
	if err != nil {
		return nil, err
	}
	var blocks []Block
	for _, p := range prefixes {
		bs, err := Blocks(p)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, bs...)
	}
	return blocks, nil
}

// Blocks expands an IPv4 prefix of length /8../24 into its /24 blocks in
// ascending order.
func Blocks(p netip.Prefix) ([]Block, error) {
	if !p.IsValid() || !p.Addr().Is4() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTarget, p)
	}
	if p.Bits() < 8 || p.Bits() > 24 {
		return nil, fmt.Errorf("%w: %s", ErrPrefixLength, p)
	}
	p = p.Masked()
	start := addrToUint32(p.Addr())
	count := uint32(1) << (24 - p.Bits())
	blocks := make([]Block, 0, count)
	for i := uint32(0); i < count; i++ {
		blocks = append(blocks, Block{base: start + i<<8})
	}
	return blocks, nil
}

// BlockCount returns the number of /24 blocks in the given prefixes.
func BlockCount(prefixes []netip.Prefix) int {
	n := 0
	for _, p := range prefixes {
		if p.Bits() <= 24 {
			n += 1 << (24 - p.Bits())
		}
	}
	return n
}

// IsPrivate checks if an address is in private (RFC 1918) address space.
func IsPrivate(addr netip.Addr) bool {
	for _, r := range PrivateRanges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// IsPrivatePrefix reports whether p lies entirely inside one RFC 1918 range.
func IsPrivatePrefix(p netip.Prefix) bool {
	for _, r := range PrivateRanges {
		if p.Bits() >= r.Bits() && r.Contains(p.Addr()) {
			return true
		}
	}
	return false
}

func addrToUint32(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func uint32ToAddr(u uint32) netip.Addr {
	return netip.AddrFrom4([4]byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)})
}
