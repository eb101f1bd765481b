// Package sources parses the external data files used for geolocation.
package sources

import (
	"bufio"
	"encoding/csv"
	"io"
	"net/netip"
	"strconv"
	"strings"
)

// GeofeedEntry is one line of an RFC 8805 geofeed. Lat and Lon come from two
// optional trailing columns, used by hand-written feeds that pin internal
// networks to a map position.
type GeofeedEntry struct {
	Prefix  netip.Prefix
	Country string
	Region  string
	City    string
	Postal  string
	Lat     *float64
	Lon     *float64
}

// ParseGeofeed reads prefix,country,region,city[,postal[,lat,lon]] lines.
// Comments, blank lines and unparseable lines are skipped.
func ParseGeofeed(r io.Reader) ([]GeofeedEntry, error) {
	var entries []GeofeedEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		record, err := csv.NewReader(strings.NewReader(line)).Read()
		if err != nil || len(record) < 2 {
			continue
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}

		prefix, err := netip.ParsePrefix(record[0])
		if err != nil {
			continue
		}
		e := GeofeedEntry{Prefix: prefix.Masked(), Country: strings.ToUpper(record[1])}
		if len(record) > 2 {
			e.Region = record[2]
		}
		if len(record) > 3 {
			e.City = record[3]
		}
		if len(record) > 4 {
			e.Postal = record[4]
		}
		if len(record) > 6 {
			lat, latErr := strconv.ParseFloat(record[5], 64)
			lon, lonErr := strconv.ParseFloat(record[6], 64)
			if latErr == nil && lonErr == nil && lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
				e.Lat, e.Lon = &lat, &lon
			}
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
