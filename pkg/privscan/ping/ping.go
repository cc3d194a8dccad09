// Package ping sends single ICMP echo requests to check host liveness.
//
// Two socket modes are supported:
//   - unprivileged (default): "udp4" datagram ICMP sockets, available to
//     users in net.ipv4.ping_group_range on Linux and by default on macOS
//   - privileged: raw "ip4:icmp" sockets, requires root or CAP_NET_RAW
//
// Each probe opens its own socket so concurrent probes never see each
// other's replies.
package ping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// DefaultTimeout is the wait for an echo reply.
const DefaultTimeout = 200 * time.Millisecond

// DefaultPayload is the echo request body.
var DefaultPayload = []byte("privscan-liveness")

// protocolICMP is the IANA protocol number for ICMPv4.
const protocolICMP = 1

// DebugLogger is a callback for debug logging.
var DebugLogger func(format string, args ...interface{})

func debugLog(format string, args ...interface{}) {
	if DebugLogger != nil {
		DebugLogger(format, args...)
	}
}

// Pinger sends ICMP echo requests.
type Pinger struct {
	Privileged bool
	Payload    []byte

	id  int
	seq atomic.Uint32
}

// NewPinger creates a pinger with the default payload.
func NewPinger(privileged bool) *Pinger {
	return &Pinger{
		Privileged: privileged,
		Payload:    DefaultPayload,
		id:         os.Getpid() & 0xffff,
	}
}

func (p *Pinger) network() string {
	if p.Privileged {
		return "ip4:icmp"
	}
	return "udp4"
}

// Ping sends one echo request to addr and waits up to timeout for the reply.
// A missing reply is not an error: it returns false, nil. Errors are reserved
// for local failures such as socket creation.
func (p *Pinger) Ping(ctx context.Context, addr netip.Addr, timeout time.Duration) (bool, error) {
	if !addr.Is4() {
		return false, fmt.Errorf("ping %s: only IPv4 is supported", addr)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	conn, err := icmp.ListenPacket(p.network(), "0.0.0.0")
	if err != nil {
		return false, fmt.Errorf("failed to create ICMP connection: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := &icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: p.Payload,
		},
	}
	msgBytes, err := msg.Marshal(nil)
	if err != nil {
		return false, fmt.Errorf("failed to marshal ICMP message: %w", err)
	}

	ip := net.IP(addr.AsSlice())
	var dst net.Addr = &net.UDPAddr{IP: ip}
	if p.Privileged {
		dst = &net.IPAddr{IP: ip}
	}
	if _, err := conn.WriteTo(msgBytes, dst); err != nil {
		// unreachable routes and the like are a negative result, not a failure
		debugLog("%s: send failed: %v", addr, err)
		return false, nil
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return false, err
	}

	reply := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(reply)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return false, nil
			}
			return false, err
		}

		if !peerIP(peer).Equal(ip) {
			continue
		}

		rm, err := icmp.ParseMessage(protocolICMP, reply[:n])
		if err != nil || rm.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := rm.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// The kernel rewrites the ID of datagram ICMP sockets
		if p.Privileged && echo.ID != p.id {
			continue
		}
		debugLog("%s: echo reply", addr)
		return true, nil
	}
}

func peerIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	}
	return nil
}
