// Package wifi reports the local access point address used for
// captive-portal redirects.
package wifi

import (
	"fmt"
	"net"
)

// AccessPoint reports the address clients reach the device at while its
// access point is up. ok is false when no access point is active.
type AccessPoint interface {
	IP() (ip net.IP, ok bool)
}

// Static is a fixed access point address. A nil or empty address means
// no access point.
type Static struct {
	Addr net.IP
}

func (s Static) IP() (net.IP, bool) {
	if len(s.Addr) == 0 {
		return nil, false
	}
	return s.Addr, true
}

// Interface reports the first IPv4 address of a network interface. The
// access point counts as active while the interface is up and addressed.
type Interface struct {
	Name string

	byName func(string) (*net.Interface, error)
}

func NewInterface(name string) *Interface {
	return &Interface{Name: name, byName: net.InterfaceByName}
}

func (i *Interface) IP() (net.IP, bool) {
	ifc, err := i.byName(i.Name)
	if err != nil || ifc.Flags&net.FlagUp == 0 {
		return nil, false
	}
	addrs, err := ifc.Addrs()
	if err != nil {
		return nil, false
	}
	return firstIPv4(addrs)
}

func firstIPv4(addrs []net.Addr) (net.IP, bool) {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, true
		}
	}
	return nil, false
}

// FromConfig picks an interface lookup when iface is set, else a static
// address, else no access point.
func FromConfig(iface, addr string) (AccessPoint, error) {
	if iface != "" {
		return NewInterface(iface), nil
	}
	if addr == "" {
		return Static{}, nil
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("invalid access point address %q", addr)
	}
	return Static{Addr: ip}, nil
}
