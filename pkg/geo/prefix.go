package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"

	"github.com/sudorandom/visor/pkg/sources"
	"github.com/sudorandom/visor/pkg/utils"
)

// PrefixLocator answers from geofeed entries stored in a prefix trie. It is
// meant to sit first in a Chain so that operator-supplied feeds override the
// databases, including for private ranges.
type PrefixLocator struct {
	trie *utils.PrefixTrie
}

func NewPrefixLocator(trie *utils.PrefixTrie) *PrefixLocator {
	return &PrefixLocator{trie: trie}
}

// Load parses a geofeed and stores every entry. It returns the number of
// prefixes stored.
func (p *PrefixLocator) Load(r io.Reader) (int, error) {
	entries, err := sources.ParseGeofeed(r)
	if err != nil {
		return 0, fmt.Errorf("failed to parse geofeed: %w", err)
	}
	batch := make(map[netip.Prefix][]byte, len(entries))
	for _, e := range entries {
		loc := Location{
			Lat:         e.Lat,
			Lon:         e.Lon,
			CountryCode: e.Country,
			Country:     CountryName(e.Country),
			City:        e.City,
		}
		b, err := json.Marshal(loc)
		if err != nil {
			return 0, err
		}
		batch[e.Prefix] = b
	}
	if err := p.trie.InsertBatch(batch); err != nil {
		return 0, fmt.Errorf("failed to store geofeed: %w", err)
	}
	return len(batch), nil
}

func (p *PrefixLocator) Locate(_ context.Context, ip string) (Location, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Location{}, fmt.Errorf("invalid IP %q: %w", ip, err)
	}
	m, err := p.trie.Lookup(addr)
	if err != nil {
		return Location{}, err
	}
	if !m.Found() {
		return Location{}, ErrNoLocation
	}
	var loc Location
	if err := json.Unmarshal(m.Value, &loc); err != nil {
		return Location{}, fmt.Errorf("corrupt entry for %s: %w", m.Prefix, err)
	}
	return loc, nil
}
