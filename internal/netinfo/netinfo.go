// Package netinfo finds the LAN address other devices use to reach the bridge.
package netinfo

import (
	"net"
	"sort"
	"strconv"
	"strings"
	"time"
)

const Loopback = "127.0.0.1"

// Interface is the subset of net.Interface the selection needs.
type Interface struct {
	Name  string
	Up    bool
	Loop  bool
	Addrs []string
}

// Lister enumerates host interfaces.
type Lister func() ([]Interface, error)

// SystemInterfaces lists the host's interfaces with their IPv4 addresses.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		entry := Interface{
			Name: iface.Name,
			Up:   iface.Flags&net.FlagUp != 0,
			Loop: iface.Flags&net.FlagLoopback != 0,
		}
		for _, a := range addrs {
			if ip := ipv4Of(a); ip != "" {
				entry.Addrs = append(entry.Addrs, ip)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func ipv4Of(a net.Addr) string {
	var ip net.IP
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
	case *net.IPAddr:
		ip = v.IP
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String()
	}
	return ""
}

// LocalIP picks wireless interfaces first, then any other up non-loopback
// IPv4 interface, then the source address of an outbound route, then loopback.
func LocalIP() string {
	if ip := SelectIP(SystemInterfaces); ip != "" {
		return ip
	}
	if ip := outboundIP(); ip != "" {
		return ip
	}
	return Loopback
}

// SelectIP applies the interface preference order to list's result.
func SelectIP(list Lister) string {
	ifaces, err := list()
	if err != nil {
		return ""
	}
	candidates := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		if !iface.Up || iface.Loop || len(iface.Addrs) == 0 {
			continue
		}
		candidates = append(candidates, iface)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return isWireless(candidates[i].Name) && !isWireless(candidates[j].Name)
	})
	for _, iface := range candidates {
		for _, addr := range iface.Addrs {
			if addr != "" && !strings.HasPrefix(addr, "127.") && !strings.HasPrefix(addr, "169.254.") {
				return addr
			}
		}
	}
	return ""
}

func isWireless(name string) bool {
	n := strings.ToLower(name)
	return strings.HasPrefix(n, "wlan") ||
		strings.HasPrefix(n, "wl") ||
		strings.Contains(n, "wi-fi") ||
		strings.Contains(n, "wifi") ||
		n == "en0"
}

// outboundIP asks the kernel which source address it would route through.
// UDP connect sends no packets.
func outboundIP() string {
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", time.Second)
	if err != nil {
		return ""
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return ""
}

// URLs lists the local and LAN URLs for a port.
func URLs(localIP string, port int) []string {
	urls := []string{"http://localhost:" + strconv.Itoa(port)}
	if localIP != "" && localIP != Loopback {
		urls = append(urls, "http://"+net.JoinHostPort(localIP, strconv.Itoa(port)))
	}
	return urls
}
