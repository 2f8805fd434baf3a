package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/brutella/dnssd"
)

// ErrNotFound is returned when discovery ends without seeing a service.
var ErrNotFound = errors.New("no signaling endpoint found")

const pathKey = "path"

type MDNSAdapter struct{}

var _ Adapter = (*MDNSAdapter)(nil)

func (m *MDNSAdapter) Announce(ctx context.Context, serviceInfo ServiceInfo) error {
	text := make(map[string]string)
	text["desc"] = "lanCall signaling endpoint"
	if serviceInfo.Path != "" {
		text[pathKey] = serviceInfo.Path
	}

	cfg := dnssd.Config{
		Name:   serviceInfo.Name,
		Type:   serviceInfo.Type,
		Domain: serviceInfo.Domain,
		// mdns will multicast to ip address, so we can leave it nil
		IPs:  nil,
		Text: text,
		Port: serviceInfo.Port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create mDNS responder: %w", err)
	}

	if _, err = rp.Add(service); err != nil {
		return fmt.Errorf("failed to add mDNS service: %w", err)
	}

	slog.Info("Announcing signaling endpoint", "name", serviceInfo.Name, "type", serviceInfo.Type, "port", serviceInfo.Port)
	if err = rp.Respond(ctx); err != nil {
		// Context cancellation is not an error in normal operation
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to respond to mDNS service: %w", err)
	}

	slog.Info("Shutting down mDNS responder")
	return nil
}

// Discover browses for service and sends a snapshot of every service seen
// whenever the set changes. The channel closes when ctx is done.
func (m *MDNSAdapter) Discover(ctx context.Context, service string) <-chan DiscoveryResult {
	var (
		mu      sync.Mutex
		entries = make(map[string]ServiceInfo)
		outCh   = make(chan DiscoveryResult, 10)
	)

	sendSnapshot := func() {
		mu.Lock()
		defer mu.Unlock()
		snapshot := make([]ServiceInfo, 0, len(entries))
		for _, entry := range entries {
			snapshot = append(snapshot, entry)
		}
		sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Name < snapshot[j].Name })
		select {
		case outCh <- DiscoveryResult{Services: snapshot, Error: nil}:
		default:
		}
	}

	sendError := func(err error) {
		select {
		case outCh <- DiscoveryResult{Services: nil, Error: err}:
		default:
		}
	}

	addFn := func(e dnssd.BrowseEntry) {
		if len(e.IPs) == 0 {
			slog.Debug("Ignoring service without addresses", "name", e.Name)
			return
		}
		mu.Lock()
		entries[fmt.Sprintf("%s:%s:%s", e.Name, e.Type, e.Domain)] = ServiceInfo{
			Name:   e.Name,
			Type:   e.Type,
			Domain: e.Domain,
			Addr:   e.IPs[0],
			Port:   e.Port,
			Path:   e.Text[pathKey],
		}
		mu.Unlock()
		sendSnapshot()
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		mu.Lock()
		delete(entries, fmt.Sprintf("%s:%s:%s", e.Name, e.Type, e.Domain))
		mu.Unlock()
		sendSnapshot()
	}

	go func() {
		defer close(outCh)
		if err := dnssd.LookupType(ctx, service, addFn, rmvFn); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			sendError(fmt.Errorf("mDNS lookup failed: %w", err))
		}
	}()

	return outCh
}

// ResolveFirst waits for the first service of serviceType announced in domain.
func ResolveFirst(ctx context.Context, adapter Adapter, serviceType, domain string) (ServiceInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	service := fmt.Sprintf("%s.%s.", serviceType, domain)
	for result := range adapter.Discover(ctx, service) {
		if result.Error != nil {
			return ServiceInfo{}, result.Error
		}
		if len(result.Services) > 0 {
			return result.Services[0], nil
		}
	}
	if err := ctx.Err(); err != nil {
		return ServiceInfo{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return ServiceInfo{}, ErrNotFound
}
