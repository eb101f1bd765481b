package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/sudorandom/visor/pkg/capture"
	"github.com/sudorandom/visor/pkg/geo"
	"github.com/sudorandom/visor/pkg/visor"
)

// Enricher turns captured packets into wire events: both ends are
// geolocated and local addresses are drawn at the server's own location.
type Enricher struct {
	Locator geo.Locator

	mu     sync.RWMutex
	server visor.ServerLocation
}

func NewEnricher(l geo.Locator) *Enricher {
	return &Enricher{Locator: l}
}

func (e *Enricher) SetServerLocation(loc visor.ServerLocation) {
	e.mu.Lock()
	e.server = loc
	e.mu.Unlock()
}

func (e *Enricher) ServerLocation() visor.ServerLocation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.server
}

// ConnectionType is local-local, local-public, public-local or public-public.
func ConnectionType(src, dst string) string {
	switch srcLocal, dstLocal := geo.IsLocal(src), geo.IsLocal(dst); {
	case srcLocal && dstLocal:
		return visor.ConnLocalLocal
	case srcLocal:
		return visor.ConnLocalPublic
	case dstLocal:
		return visor.ConnPublicLocal
	default:
		return visor.ConnPublicPublic
	}
}

func (e *Enricher) Enrich(ctx context.Context, p capture.Packet) visor.Event {
	ev := visor.Event{
		Src:     p.Src,
		Dst:     p.Dst,
		SrcPort: p.SrcPort,
		DstPort: p.DstPort,
		Proto:   visor.Proto(p.Proto),
		Type:    ConnectionType(p.Src, p.Dst),
	}
	server := e.ServerLocation()

	src := e.locate(ctx, p.Src, server)
	ev.SrcLat, ev.SrcLon, ev.SrcCountry, ev.SrcCountryCode = src.Lat, src.Lon, src.Country, src.CountryCode
	dst := e.locate(ctx, p.Dst, server)
	ev.DstLat, ev.DstLon, ev.DstCountry, ev.DstCountryCode = dst.Lat, dst.Lon, dst.Country, dst.CountryCode
	return ev
}

func (e *Enricher) locate(ctx context.Context, ip string, server visor.ServerLocation) geo.Location {
	var loc geo.Location
	if e.Locator != nil && ip != "" {
		loc, _ = e.Locator.Locate(ctx, ip)
	}
	if geo.IsLocal(ip) && server.Known() {
		loc.Lat, loc.Lon = server.Lat, server.Lon
	}
	return loc
}

// ResolveServerLocation looks up this host's public address and locates it.
func ResolveServerLocation(ctx context.Context, client *http.Client, publicIPURL string, l geo.Locator) (visor.ServerLocation, error) {
	ip, err := geo.PublicIP(ctx, client, publicIPURL)
	if err != nil {
		return visor.ServerLocation{}, err
	}
	loc, err := l.Locate(ctx, ip)
	if err != nil {
		return visor.ServerLocation{}, fmt.Errorf("failed to locate %s: %w", ip, err)
	}
	if !loc.Known() {
		return visor.ServerLocation{}, fmt.Errorf("%w: %s has no coordinates", geo.ErrNoLocation, ip)
	}
	log.Printf("[GEO] Server %s located at %.2f,%.2f (%s)", ip, *loc.Lat, *loc.Lon, loc.Country)
	return visor.ServerLocation{Lat: loc.Lat, Lon: loc.Lon}, nil
}
