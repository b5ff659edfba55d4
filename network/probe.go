// Package network checks that a banknode's service address is reachable and
// discovers a routable local address when none is configured.
package network

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"bcrnode/core/types"
)

const defaultProbeTimeout = 5 * time.Second

// Prober dials the node's own service address to confirm inbound
// connectivity.
type Prober struct {
	dialer *net.Dialer
	logger *slog.Logger
}

func NewProber(timeout time.Duration, logger *slog.Logger) *Prober {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{
		dialer: &net.Dialer{Timeout: timeout},
		logger: logger.With(slog.String("component", "connectivity_probe")),
	}
}

// CanReachSelf opens and immediately closes a TCP connection to service.
func (p *Prober) CanReachSelf(ctx context.Context, service types.Service) bool {
	if !service.IsValid() {
		return false
	}
	conn, err := p.dialer.DialContext(ctx, "tcp", service.String())
	if err != nil {
		p.logger.Warn("Inbound connection check failed",
			slog.String("service", service.String()),
			slog.Any("error", err))
		return false
	}
	_ = conn.Close()
	return true
}

// Resolver picks a routable address from the host's interfaces.
type Resolver struct {
	port      uint16
	addrs     func() ([]net.Addr, error)
	allowPriv bool
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithInterfaceAddrs replaces net.InterfaceAddrs as the address source.
func WithInterfaceAddrs(fn func() ([]net.Addr, error)) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.addrs = fn
		}
	}
}

// AllowPrivate accepts RFC 1918 and unique local addresses, for test networks.
func AllowPrivate(allow bool) ResolverOption {
	return func(r *Resolver) { r.allowPriv = allow }
}

func NewResolver(port uint16, opts ...ResolverOption) *Resolver {
	if port == 0 {
		port = types.DefaultPort
	}
	r := &Resolver{port: port, addrs: net.InterfaceAddrs}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DetectReachableAddress returns the first routable interface address,
// preferring IPv4.
func (r *Resolver) DetectReachableAddress(context.Context) (types.Service, bool) {
	addrs, err := r.addrs()
	if err != nil {
		return types.Service{}, false
	}
	var v6 netip.Addr
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if !r.routable(addr) {
			continue
		}
		if addr.Is4() {
			return types.NewService(netip.AddrPortFrom(addr, r.port)), true
		}
		if !v6.IsValid() {
			v6 = addr
		}
	}
	if v6.IsValid() {
		return types.NewService(netip.AddrPortFrom(v6, r.port)), true
	}
	return types.Service{}, false
}

func (r *Resolver) routable(addr netip.Addr) bool {
	if !addr.IsGlobalUnicast() {
		return false
	}
	if addr.IsPrivate() && !r.allowPriv {
		return false
	}
	return true
}
