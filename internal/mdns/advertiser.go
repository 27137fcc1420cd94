// Package mdns advertises the HTTP server on the local link so clients
// joining the access point can find it without knowing its address.
package mdns

import (
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
	"go.uber.org/zap"
)

const (
	ServiceType = "_http._tcp"
	Domain      = "local."
)

type Info struct {
	Instance string
	Port     int
	Version  string
	// Interface restricts the advertisement; empty means all interfaces.
	Interface string
}

// TXT returns the TXT records for info.
func (i Info) TXT() []string {
	return []string{
		"devgate=" + i.Version,
		"wsapi=/ws",
		"app=/app",
	}
}

type server interface {
	Shutdown()
}

var register = func(instance, service, domain string, port int, txt []string, ifaces []net.Interface) (server, error) {
	srv, err := zeroconf.Register(instance, service, domain, port, txt, ifaces)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

type Advertiser struct {
	log *zap.Logger

	mu     sync.Mutex
	server server
}

func New(log *zap.Logger) *Advertiser {
	return &Advertiser{log: log.Named("mdns")}
}

// Advertise replaces any running advertisement with info.
func (a *Advertiser) Advertise(info Info) error {
	var ifaces []net.Interface
	if info.Interface != "" {
		iface, err := net.InterfaceByName(info.Interface)
		if err != nil {
			return fmt.Errorf("mdns interface %s: %w", info.Interface, err)
		}
		ifaces = []net.Interface{*iface}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	srv, err := register(info.Instance, ServiceType, Domain, info.Port, info.TXT(), ifaces)
	if err != nil {
		return fmt.Errorf("register %s: %w", info.Instance, err)
	}
	a.server = srv
	a.log.Info("advertising", zap.String("instance", info.Instance), zap.Int("port", info.Port))
	return nil
}

func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}
