package exclude

import (
	"net"
	"net/netip"
)

// LocalAddrs returns every non-loopback IPv4 address bound to a local
// interface. Down interfaces are included: an address configured on this
// host must never be reported, whatever the link state.
func LocalAddrs() ([]netip.Addr, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var res []netip.Addr
	seen := make(map[netip.Addr]struct{})

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil || ip4.IsLoopback() {
				continue
			}
			a, ok := netip.AddrFromSlice(ip4)
			if !ok {
				continue
			}
			if _, exists := seen[a]; exists {
				continue
			}
			seen[a] = struct{}{}
			res = append(res, a)
		}
	}

	return res, nil
}
