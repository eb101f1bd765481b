package sources

import (
	"strings"
	"testing"
)

func TestParseGeofeed(t *testing.T) {
	feed := `# prefix,country,region,city,postal
8.8.8.0/24,us,US-CA,Mountain View,
2001:db8::/32,DE,DE-BE,Berlin,10115
10.20.0.0/16,DE,,Office,,52.52,13.40
10.30.0.0/16,DE,,Broken,,north,east
not-a-prefix,US,,,
1.2.3.4/24
1.2.3.0/24,FR
`
	entries, err := ParseGeofeed(strings.NewReader(feed))
	if err != nil {
		t.Fatalf("ParseGeofeed failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("Expected 5 entries, got %d: %+v", len(entries), entries)
	}

	tests := []struct {
		i       int
		prefix  string
		country string
		city    string
		located bool
	}{
		{0, "8.8.8.0/24", "US", "Mountain View", false},
		{1, "2001:db8::/32", "DE", "Berlin", false},
		{2, "10.20.0.0/16", "DE", "Office", true},
		{3, "10.30.0.0/16", "DE", "Broken", false},
		{4, "1.2.3.0/24", "FR", "", false},
	}
	for _, tt := range tests {
		e := entries[tt.i]
		if e.Prefix.String() != tt.prefix || e.Country != tt.country || e.City != tt.city {
			t.Errorf("entry %d = %v/%s/%s, want %s/%s/%s", tt.i, e.Prefix, e.Country, e.City, tt.prefix, tt.country, tt.city)
		}
		if (e.Lat != nil) != tt.located {
			t.Errorf("entry %d located = %v, want %v", tt.i, e.Lat != nil, tt.located)
		}
	}
	if *entries[2].Lat != 52.52 || *entries[2].Lon != 13.40 {
		t.Errorf("Unexpected coordinates %v,%v", *entries[2].Lat, *entries[2].Lon)
	}
	if entries[1].Postal != "10115" || entries[1].Region != "DE-BE" {
		t.Errorf("Unexpected region/postal %+v", entries[1])
	}
}
