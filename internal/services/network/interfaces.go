// Package network enumerates the broadcast addresses the frame sync can be
// sent to.
package network

import (
	"fmt"
	"net"
	"net/netip"
	"os/exec"
	"runtime"
	"strings"
)

// Interface types.
const (
	TypeEthernet  = "ethernet"
	TypeWiFi      = "wifi"
	TypeOther     = "other"
	TypeLocalhost = "localhost"
	TypeGlobal    = "global"
)

// InterfaceOption is one candidate sync broadcast target.
type InterfaceOption struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	Broadcast     string `json:"broadcast"`
	Description   string `json:"description"`
	InterfaceType string `json:"interfaceType"`
}

// GetInterfaceType determines the type of network interface.
func GetInterfaceType(ifaceName string) string {
	if runtime.GOOS == "darwin" {
		if t := getMacOSInterfaceType(ifaceName); t != TypeOther {
			return t
		}
	}
	return getFallbackInterfaceType(ifaceName)
}

// getMacOSInterfaceType asks networksetup for the hardware port behind the device.
func getMacOSInterfaceType(ifaceName string) string {
	for _, char := range ifaceName {
		isLetter := (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z')
		isDigit := char >= '0' && char <= '9'
		if !isLetter && !isDigit && char != '-' && char != '_' {
			return getFallbackInterfaceType(ifaceName)
		}
	}

	output, err := exec.Command("networksetup", "-listallhardwareports").Output()
	if err != nil {
		return getFallbackInterfaceType(ifaceName)
	}

	deviceSearch := "device: " + strings.ToLower(ifaceName)
	for _, block := range strings.Split(strings.ToLower(string(output)), "hardware port:")[1:] {
		if !strings.Contains(block, deviceSearch) {
			continue
		}
		switch {
		case containsAny(block, "wi-fi", "wifi", "wireless"):
			return TypeWiFi
		case containsAny(block, "ethernet", "thunderbolt", "wired", "usb 10/100"):
			return TypeEthernet
		default:
			return TypeOther
		}
	}
	return getFallbackInterfaceType(ifaceName)
}

// getFallbackInterfaceType guesses the type from common naming conventions.
func getFallbackInterfaceType(ifaceName string) string {
	name := strings.ToLower(ifaceName)

	// en0 is the built-in WiFi on most Macs
	if name == "en0" {
		return TypeWiFi
	}
	if strings.HasPrefix(name, "eth") || strings.HasPrefix(name, "en") {
		return TypeEthernet
	}
	if strings.HasPrefix(name, "wl") || containsAny(name, "wifi", "wireless") {
		return TypeWiFi
	}
	return TypeOther
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func getTypeIcon(interfaceType string) string {
	switch interfaceType {
	case TypeWiFi:
		return "📶"
	case TypeEthernet:
		return "🌐"
	case TypeLocalhost:
		return "🏠"
	case TypeGlobal:
		return "🌍"
	default:
		return "📡"
	}
}

// broadcastOf returns the directed broadcast address of an IPv4 prefix.
func broadcastOf(prefix netip.Prefix) (netip.Addr, bool) {
	addr := prefix.Addr().Unmap()
	if !addr.Is4() || prefix.Bits() < 0 || prefix.Bits() > 32 {
		return netip.Addr{}, false
	}
	ip := addr.As4()
	host := uint32(1)<<(32-prefix.Bits()) - 1
	if prefix.Bits() == 0 {
		host = ^uint32(0)
	}
	v := uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
	v |= host
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}), true
}

// prefixOf converts an interface address to a prefix.
func prefixOf(addr net.Addr) (netip.Prefix, bool) {
	ipNet, ok := addr.(*net.IPNet)
	if !ok {
		return netip.Prefix{}, false
	}
	ip, ok := netip.AddrFromSlice(ipNet.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := ipNet.Mask.Size()
	ip = ip.Unmap()
	if !ip.Is4() {
		return netip.Prefix{}, false
	}
	if bits == 128 {
		ones -= 96
	}
	return netip.PrefixFrom(ip, ones), true
}

// GetNetworkInterfaces returns the sync broadcast targets: ethernet, then
// WiFi, then other interfaces, then localhost and the global broadcast.
func GetNetworkInterfaces() ([]InterfaceOption, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	grouped := map[string][]InterfaceOption{}
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			prefix, ok := prefixOf(a)
			if !ok {
				continue
			}
			bcast, ok := broadcastOf(prefix)
			// a /32 has no broadcast distinct from the host
			if !ok || bcast == prefix.Addr() {
				continue
			}

			kind := GetInterfaceType(iface.Name)
			grouped[kind] = append(grouped[kind], InterfaceOption{
				Name:          iface.Name + "-broadcast",
				Address:       prefix.Addr().String(),
				Broadcast:     bcast.String(),
				Description:   fmt.Sprintf("%s %s - %s broadcast (%s)", getTypeIcon(kind), iface.Name, kind, bcast),
				InterfaceType: kind,
			})
		}
	}

	options := make([]InterfaceOption, 0, len(interfaces)+2)
	options = append(options, grouped[TypeEthernet]...)
	options = append(options, grouped[TypeWiFi]...)
	options = append(options, grouped[TypeOther]...)
	options = append(options,
		InterfaceOption{
			Name:          "localhost",
			Address:       "127.0.0.1",
			Broadcast:     "127.0.0.1",
			Description:   getTypeIcon(TypeLocalhost) + " Localhost (simulator only)",
			InterfaceType: TypeLocalhost,
		},
		InterfaceOption{
			Name:          "global-broadcast",
			Address:       "0.0.0.0",
			Broadcast:     "255.255.255.255",
			Description:   getTypeIcon(TypeGlobal) + " Global broadcast (255.255.255.255)",
			InterfaceType: TypeGlobal,
		},
	)
	return options, nil
}

// ValidateBroadcast checks that address is a usable IPv4 sync target.
func ValidateBroadcast(address string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid broadcast address %q: %w", address, err)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("broadcast address %s is not IPv4", addr)
	}
	if addr.IsUnspecified() || addr.IsMulticast() {
		return netip.Addr{}, fmt.Errorf("broadcast address %s cannot be used", addr)
	}
	return addr, nil
}
