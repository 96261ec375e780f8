package server

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Locator builds the package URLs handed to the device.
type Locator struct {
	mu   sync.RWMutex
	host string
	port int
}

// NewLocator creates a locator advertising host:port.
func NewLocator(host string, port int) *Locator {
	return &Locator{host: host, port: port}
}

// PackageURL returns http://<host>:<port>/package/<name>.
func (l *Locator) PackageURL(name string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return "http://" + net.JoinHostPort(l.host, strconv.Itoa(l.port)) + "/package/" + url.PathEscape(name)
}

// SetPort changes the advertised port after the package server is rebound.
func (l *Locator) SetPort(port int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.port = port
}

// SetHost changes the advertised host.
func (l *Locator) SetHost(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.host = host
}

// Host returns the advertised host.
func (l *Locator) Host() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.host
}

// DetectAdvertiseHost finds the local address the device can reach us on.
//
// It asks the routing table for the source address used towards deviceHost; no packet is sent.
// Without a device host it falls back to the first non-loopback IPv4 interface address.
func DetectAdvertiseHost(deviceHost string, devicePort int) (string, error) {
	if deviceHost != "" {
		conn, err := net.DialTimeout("udp", net.JoinHostPort(deviceHost, strconv.Itoa(devicePort)), time.Second)
		if err == nil {
			defer conn.Close()
			if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && !addr.IP.IsUnspecified() {
				return addr.IP.String(), nil
			}
		}
	}

	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("failed to list interface addresses: %w", err)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no usable network address found")
}
