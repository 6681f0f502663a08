package media

import (
	"net"
	"strings"
)

// Carrier-grade NAT range, also used by WARP and Tailscale.
var cgnatBlock = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

type ifaceInfo struct {
	name     string
	up       bool
	loopback bool
	ips      []net.IP
}

// ShouldForceRelay reports whether this host is likely behind a VPN or CGNAT
// where direct peer-to-peer paths rarely work and TURN should be forced.
func ShouldForceRelay() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	infos := make([]ifaceInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		info := ifaceInfo{
			name:     iface.Name,
			up:       iface.Flags&net.FlagUp != 0,
			loopback: iface.Flags&net.FlagLoopback != 0,
		}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					info.ips = append(info.ips, v.IP)
				case *net.IPAddr:
					info.ips = append(info.ips, v.IP)
				}
			}
		}
		infos = append(infos, info)
	}
	return relayLikely(infos)
}

func relayLikely(ifaces []ifaceInfo) bool {
	for _, iface := range ifaces {
		if !iface.up || iface.loopback {
			continue
		}

		name := strings.ToLower(iface.name)
		for _, t := range tunnelNames {
			if strings.Contains(name, t) {
				return true
			}
		}

		for _, ip := range iface.ips {
			if cgnatBlock.Contains(ip) {
				return true
			}
		}
	}
	return false
}
