package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultServerType = "_lancall._tcp"
	DefaultDomain     = "local"
)

type ServiceInfo struct {
	Name   string // hostname or instance name
	Type   string // service name, e.g., "_lancall._tcp"
	Domain string // domain, e.g., "local"
	Addr   net.IP
	Port   int
	Path   string // signaling base path, "/" when empty
}

// URL returns the signaling base URL of the service.
func (s ServiceInfo) URL() string {
	path := s.Path
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	host := "localhost"
	if s.Addr != nil {
		host = s.Addr.String()
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(host, strconv.Itoa(s.Port)), path)
}

// DiscoveryResult contains either a snapshot of the services seen so far or an error.
type DiscoveryResult struct {
	Services []ServiceInfo
	Error    error
}

type Adapter interface {
	Announce(ctx context.Context, service ServiceInfo) error
	Discover(ctx context.Context, service string) <-chan DiscoveryResult
}
