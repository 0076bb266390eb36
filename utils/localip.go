package utils

import (
	"errors"
	"net"
	"slices"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// GetLocalIp returns the first IPv4 address of an interface that is up and
// not a loopback.
func GetLocalIp() (string, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return "", err
	}

	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String(), nil
			}
		}
	}
	return "", errors.New("no non-loopback IPv4 address found")
}
