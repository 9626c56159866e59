// Package endpoint parses and rebuilds the endpoint URIs a transport advertises.
//
// A transport knows its own scheme and binds a socket such as
// "0.0.0.0:8080?protocol=http2", so addresses are parsed as
// scheme + "://" + address.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ErrInvalidAddress is returned when an address is not a valid URI or its
// authority is not host:port.
var ErrInvalidAddress = errors.New("invalid address")

// Endpoint is a structured endpoint URI.
type Endpoint struct {
	Scheme   string
	User     *url.Userinfo
	Host     string // bare host, no brackets
	Port     int
	Path     string
	RawQuery string
	Fragment string

	rawPath     string
	rawFragment string
}

// Parse parses scheme://address into an Endpoint.
func Parse(scheme, address string) (Endpoint, error) {
	u, err := url.Parse(scheme + "://" + address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}
	if u.Scheme == "" || u.Opaque != "" {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}

	host, port, err := SplitHostPort(u.Host)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, address, err)
	}

	return Endpoint{
		Scheme:      u.Scheme,
		User:        u.User,
		Host:        host,
		Port:        port,
		Path:        u.Path,
		RawQuery:    u.RawQuery,
		Fragment:    u.Fragment,
		rawPath:     u.RawPath,
		rawFragment: u.RawFragment,
	}, nil
}

// SplitHostPort splits an authority into host and port.
// An empty host is allowed and means all interfaces.
func SplitHostPort(authority string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

// IsWildcard reports whether the host is an any-address bind.
func (e Endpoint) IsWildcard() bool {
	return IsWildcardHost(e.Host)
}

// IsWildcardHost reports whether host is empty, 0.0.0.0 or ::.
func IsWildcardHost(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}

// WithHostPort returns a copy of e with host and port replaced.
func (e Endpoint) WithHostPort(host string, port int) Endpoint {
	e.Host = host
	e.Port = port
	return e
}

// Authority returns host:port, bracketing IPv6 hosts.
func (e Endpoint) Authority() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint as a URI.
func (e Endpoint) String() string {
	u := url.URL{
		Scheme:      e.Scheme,
		User:        e.User,
		Host:        e.Authority(),
		Path:        e.Path,
		RawPath:     e.rawPath,
		RawQuery:    e.RawQuery,
		Fragment:    e.Fragment,
		RawFragment: e.rawFragment,
	}
	return u.String()
}
