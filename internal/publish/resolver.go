// Package publish decides which address and host name a process advertises
// for its bound endpoints.
//
// The decision is driven by cse.service.publishAddress:
//
//	""        bind-address detection: wildcard binds become the host address
//	"{eth0}"  the address bound to interface eth0
//	"1.2.3.4" that host; a port here is rejected
//
// When the setting is present, cse.<scheme>.publishPort rewrites the port of
// that scheme's endpoints.
package publish

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/heytom-labs/heytom-registry/internal/config"
	"github.com/heytom-labs/heytom-registry/internal/endpoint"
	"github.com/heytom-labs/heytom-registry/internal/netutil"
)

// ErrInvalidPublishAddress is returned when a literal publish address is not
// a bare host, for example "10.0.0.5:9000". Ports come from publishPort.
var ErrInvalidPublishAddress = errors.New("invalid publish address")

// Source is the configuration read by the resolver. *viper.Viper implements it.
type Source interface {
	GetString(key string) string
	GetInt(key string) int
}

// Resolver resolves publish addresses. It holds no mutable state and is safe
// for concurrent use.
type Resolver struct {
	cfg Source
	net netutil.InterfaceResolver
	log *zap.Logger
}

// NewResolver creates a Resolver. A nil logger disables logging.
func NewResolver(cfg Source, net netutil.InterfaceResolver, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{cfg: cfg, net: net, log: log.Named("publish")}
}

// Setting returns the current publish address setting.
func (r *Resolver) Setting() Setting {
	return ParseSetting(r.cfg.GetString(config.KeyPublishAddress))
}

// ResolveAddress converts a bound address of the given scheme into the
// endpoint advertised to peers.
//
// A malformed address yields endpoint.ErrInvalidAddress; it is logged here and
// the caller is expected to skip that endpoint. A configured interface that
// cannot be resolved yields netutil.ErrInterfaceResolution, and a literal
// carrying a port yields ErrInvalidPublishAddress; callers must not swallow
// either.
func (r *Resolver) ResolveAddress(scheme, address string) (endpoint.Endpoint, error) {
	ep, err := endpoint.Parse(scheme, address)
	if err != nil {
		r.log.Warn("address not valid", zap.String("address", address), zap.Error(err))
		return endpoint.Endpoint{}, err
	}

	setting := r.Setting()
	var host string
	switch setting.Kind {
	case Unset:
		if !ep.IsWildcard() {
			return ep, nil
		}
		host = r.net.HostAddress()
		r.log.Warn("auto selected a host address to publish, maybe not the correct one",
			zap.String("address", address),
			zap.String("host", host),
			zap.Int("port", ep.Port))
		return ep.WithHostPort(host, ep.Port), nil
	case InterfaceRef:
		ip, err := r.net.InterfaceAddress(setting.Value)
		if err != nil {
			return endpoint.Endpoint{}, fmt.Errorf("resolve publish address of %s: %w", address, err)
		}
		host = ip.String()
	case Literal:
		host, err = literalHost(setting.Value)
		if err != nil {
			return endpoint.Endpoint{}, err
		}
	}

	return ep.WithHostPort(host, r.publishPort(ep)), nil
}

// ResolveAddresses resolves every address of a scheme, skipping invalid
// ones. Interface resolution failures abort.
func (r *Resolver) ResolveAddresses(scheme string, addresses []string) ([]endpoint.Endpoint, error) {
	out := make([]endpoint.Endpoint, 0, len(addresses))
	for _, address := range addresses {
		ep, err := r.ResolveAddress(scheme, address)
		if errors.Is(err, endpoint.ErrInvalidAddress) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// ResolveHostName returns the host name advertised for a bound host:port
// address. It follows ResolveAddress but yields names: the local host name
// for wildcard binds, the interface's host name for interface settings.
func (r *Resolver) ResolveHostName(address string) (string, error) {
	ep, err := endpoint.Parse("tcp", address)
	if err != nil {
		r.log.Warn("address not valid", zap.String("address", address), zap.Error(err))
		return "", err
	}

	setting := r.Setting()
	switch setting.Kind {
	case InterfaceRef:
		name, err := r.net.InterfaceHostName(setting.Value)
		if err != nil {
			return "", fmt.Errorf("resolve publish host name of %s: %w", address, err)
		}
		return name, nil
	case Literal:
		return setting.Value, nil
	}

	if ep.IsWildcard() {
		return r.net.HostName(), nil
	}
	return ep.Host, nil
}

// PublishAddress returns the address advertised for the process as a whole.
func (r *Resolver) PublishAddress() (string, error) {
	setting := r.Setting()
	switch setting.Kind {
	case InterfaceRef:
		ip, err := r.net.InterfaceAddress(setting.Value)
		if err != nil {
			return "", err
		}
		return ip.String(), nil
	case Literal:
		return literalHost(setting.Value)
	}
	return r.net.HostAddress(), nil
}

// PublishHostName returns the host name advertised for the process as a whole.
func (r *Resolver) PublishHostName() (string, error) {
	setting := r.Setting()
	switch setting.Kind {
	case InterfaceRef:
		return r.net.InterfaceHostName(setting.Value)
	case Literal:
		return setting.Value, nil
	}
	return r.net.HostName(), nil
}

// literalHost accepts a host name, an IPv4 or an IPv6 address (optionally
// bracketed). Anything else with a colon carries a port and is rejected.
func literalHost(v string) (string, error) {
	if inner, ok := strings.CutPrefix(v, "["); ok {
		if inner, ok = strings.CutSuffix(inner, "]"); ok && net.ParseIP(inner) != nil {
			return inner, nil
		}
	}
	if strings.Contains(v, ":") && net.ParseIP(v) == nil {
		return "", fmt.Errorf("%w: %q is not a bare host", ErrInvalidPublishAddress, v)
	}
	return v, nil
}

func (r *Resolver) publishPort(ep endpoint.Endpoint) int {
	if port := r.cfg.GetInt(config.PublishPortKey(ep.Scheme)); port != 0 {
		return port
	}
	return ep.Port
}
