// Package geo resolves IP addresses to map positions and countries.
package geo

import (
	"context"
	"errors"
	"net/netip"
	"strings"

	"github.com/biter777/countries"
)

var ErrNoLocation = errors.New("no location for address")

// Location is what a Locator knows about an address. Lat and Lon are nil
// when only the country is known.
type Location struct {
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	Country     string   `json:"country,omitempty"`
	CountryCode string   `json:"country_code,omitempty"`
	City        string   `json:"city,omitempty"`
}

// Known reports whether the location has coordinates.
func (l Location) Known() bool { return l.Lat != nil && l.Lon != nil }

func (l Location) empty() bool { return !l.Known() && l.Country == "" && l.CountryCode == "" }

func coords(lat, lon float64) (*float64, *float64) {
	return &lat, &lon
}

type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

type LocatorFunc func(ctx context.Context, ip string) (Location, error)

func (f LocatorFunc) Locate(ctx context.Context, ip string) (Location, error) { return f(ctx, ip) }

// Chain asks each locator in turn. The first location with coordinates wins;
// otherwise the first country-only answer is returned.
type Chain []Locator

func (c Chain) Locate(ctx context.Context, ip string) (Location, error) {
	var partial *Location
	for _, l := range c {
		loc, err := l.Locate(ctx, ip)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Location{}, ctxErr
		}
		if err != nil || loc.empty() {
			continue
		}
		if loc.Known() {
			if loc.Country == "" && partial != nil {
				loc.Country, loc.CountryCode = partial.Country, partial.CountryCode
			}
			return loc, nil
		}
		if partial == nil {
			partial = &loc
		}
	}
	if partial != nil {
		return *partial, nil
	}
	return Location{}, ErrNoLocation
}

// IsLocal reports whether ip is private, loopback, link-local or
// unspecified. Unparseable input is treated as local.
func IsLocal(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	addr = addr.Unmap()
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}

// CountryName returns a short English name for an ISO 3166 alpha-2 code,
// or the code itself if it is not recognised.
func CountryName(cc string) string {
	if cc == "" {
		return ""
	}
	name := countries.ByName(cc).String()
	if name == countries.Unknown.String() {
		return cc
	}
	if idx := strings.Index(name, " ("); idx != -1 {
		name = name[:idx]
	}
	for _, short := range []string{"Hong Kong", "Macao", "Taiwan"} {
		if strings.Contains(name, short) {
			return short
		}
	}
	return name
}
