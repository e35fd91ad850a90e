// Package meshadvert announces a node's host-side control port over
// mDNS/DNS-SD, the same "pure-Go, no system daemon" approach
// dns_sd.go takes for Dire Wolf's KISS-over-TCP service, adapted to
// advertise a lnk22 node's control endpoint to companion apps on the
// same network instead of a KISS TNC.
package meshadvert

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
)

// ServiceType is the DNS-SD service type companion apps browse for.
const ServiceType = "_lnk22-node._tcp"

// Advertiser owns one announced service instance.
type Advertiser struct {
	responder dnssd.Responder
	handle    dnssd.ServiceHandle
	cancel    context.CancelFunc
}

// Start announces name on port and begins responding to mDNS queries
// in the background. name should be unique per node, e.g. the node's
// callsign or short address.
func Start(name string, port int) (*Advertiser, error) {
	cfg := dnssd.Config{ //nolint:exhaustruct
		Name: name,
		Type: ServiceType,
		Port: port,
	}
	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return nil, fmt.Errorf("meshadvert: building service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return nil, fmt.Errorf("meshadvert: creating responder: %w", err)
	}

	handle, err := responder.Add(svc)
	if err != nil {
		return nil, fmt.Errorf("meshadvert: adding service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Advertiser{responder: responder, handle: handle, cancel: cancel}
	go func() {
		_ = responder.Respond(ctx)
	}()
	return a, nil
}

// Stop withdraws the announcement and shuts down the responder.
func (a *Advertiser) Stop() {
	a.cancel()
}
