// Package netutil answers host and network-interface queries used when
// deciding which address a process advertises.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
)

// ErrInterfaceResolution is returned when a named interface does not exist
// or has no usable address.
var ErrInterfaceResolution = errors.New("interface resolution failed")

// InterfaceResolver resolves local host identity and interface addresses.
type InterfaceResolver interface {
	// HostAddress returns the detected primary host address.
	HostAddress() string

	// HostName returns the local host name.
	HostName() string

	// InterfaceAddress returns the address bound to the named interface.
	InterfaceAddress(name string) (net.IP, error)

	// InterfaceHostName returns the host name of the address bound to the named interface.
	InterfaceHostName(name string) (string, error)
}

// System resolves against the operating system's interfaces.
// The zero value is ready to use.
type System struct {
	once     sync.Once
	hostAddr string
	hostName string
}

var _ InterfaceResolver = (*System)(nil)

// NewSystem creates a System resolver.
func NewSystem() *System {
	return &System{}
}

func (s *System) detect() {
	s.once.Do(func() {
		name, err := os.Hostname()
		if err != nil || name == "" {
			name = "localhost"
		}
		s.hostName = name
		s.hostAddr = detectHostAddress(name)
	})
}

// HostAddress returns the first IPv4 address of an up, non-loopback
// interface, falling back to the host name's address and then 127.0.0.1.
func (s *System) HostAddress() string {
	s.detect()
	return s.hostAddr
}

// HostName returns the local host name.
func (s *System) HostName() string {
	s.detect()
	return s.hostName
}

// InterfaceAddress returns the IPv4 address of the interface, or its first
// IPv6 address when it has no IPv4 one.
func (s *System) InterfaceAddress(name string) (net.IP, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInterfaceResolution, name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInterfaceResolution, name, err)
	}
	ip := pickAddress(addrs)
	if ip == nil {
		return nil, fmt.Errorf("%w: %s has no address", ErrInterfaceResolution, name)
	}
	return ip, nil
}

// InterfaceHostName reverse-resolves the interface address. Without a PTR
// record the textual address is returned.
func (s *System) InterfaceHostName(name string) (string, error) {
	ip, err := s.InterfaceAddress(name)
	if err != nil {
		return "", err
	}
	return ReverseLookup(ip), nil
}

// ReverseLookup returns the first PTR name of ip without the trailing dot,
// or ip's textual form.
func ReverseLookup(ip net.IP) string {
	names, err := net.LookupAddr(ip.String())
	if err != nil || len(names) == 0 {
		return ip.String()
	}
	return strings.TrimSuffix(names[0], ".")
}

func detectHostAddress(hostName string) string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
				continue
			}
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}
			for _, addr := range addrs {
				if ip := addrIP(addr); ip != nil && ip.To4() != nil && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() {
					return ip.String()
				}
			}
		}
	}

	if ips, err := net.LookupIP(hostName); err == nil {
		for _, ip := range ips {
			if ip.To4() != nil && !ip.IsLoopback() {
				return ip.String()
			}
		}
	}
	return "127.0.0.1"
}

func pickAddress(addrs []net.Addr) net.IP {
	var v6 net.IP
	for _, addr := range addrs {
		ip := addrIP(addr)
		if ip == nil {
			continue
		}
		if ip.To4() != nil {
			return ip
		}
		if v6 == nil {
			v6 = ip
		}
	}
	return v6
}

func addrIP(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}
