package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

type mmdbRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
}

// MaxMindLocator reads GeoLite2/GeoIP2 City or Country databases.
type MaxMindLocator struct {
	db *maxminddb.Reader
}

func OpenMaxMind(path string) (*MaxMindLocator, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &MaxMindLocator{db: db}, nil
}

func MaxMindFromBytes(b []byte) (*MaxMindLocator, error) {
	db, err := maxminddb.FromBytes(b)
	if err != nil {
		return nil, err
	}
	return &MaxMindLocator{db: db}, nil
}

func (m *MaxMindLocator) Close() error {
	return m.db.Close()
}

func (m *MaxMindLocator) Locate(_ context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, fmt.Errorf("invalid IP %q", ip)
	}
	var rec mmdbRecord
	if err := m.db.Lookup(parsed, &rec); err != nil {
		return Location{}, err
	}

	loc := Location{
		CountryCode: rec.Country.ISOCode,
		Country:     rec.Country.Names["en"],
		City:        rec.City.Names["en"],
	}
	if loc.Country == "" {
		loc.Country = CountryName(loc.CountryCode)
	}
	if rec.Location.Latitude != nil && rec.Location.Longitude != nil {
		loc.Lat, loc.Lon = coords(*rec.Location.Latitude, *rec.Location.Longitude)
	}
	if loc.empty() {
		return Location{}, ErrNoLocation
	}
	return loc, nil
}
