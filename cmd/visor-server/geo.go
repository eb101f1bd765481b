package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/sudorandom/visor/pkg/config"
	"github.com/sudorandom/visor/pkg/geo"
	"github.com/sudorandom/visor/pkg/server"
	"github.com/sudorandom/visor/pkg/utils"
)

// buildLocator chains geofeed overrides, the MaxMind database and ip-api.com
// behind a cache. The returned func releases the databases.
func buildLocator(ctx context.Context, cfg config.GeoConfig, metrics *server.Metrics) (geo.Locator, func(), error) {
	fetcher := utils.NewFetcher(cfg.CacheDir)
	var chain geo.Chain
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if len(cfg.Geofeeds) > 0 {
		trie, err := openTrie(cfg.TrieDir)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := trie.Close(); err != nil {
				log.Printf("[GEO] Error closing prefix trie: %v", err)
			}
		})
		prefixes := geo.NewPrefixLocator(trie)
		for _, feed := range cfg.Geofeeds {
			n, err := loadGeofeed(ctx, fetcher, prefixes, feed)
			if err != nil {
				log.Printf("[GEO] Skipping geofeed %s: %v", feed, err)
				continue
			}
			log.Printf("[GEO] Loaded %d prefixes from %s", n, feed)
		}
		chain = append(chain, prefixes)
	}

	dbPath := cfg.MaxMindDB
	if dbPath == "" && cfg.MaxMindURL != "" {
		p, err := fetcher.Path(ctx, cfg.MaxMindURL)
		if err != nil {
			log.Printf("[GEO] Could not fetch MaxMind database: %v", err)
		}
		dbPath = p
	}
	if dbPath != "" {
		db, err := geo.OpenMaxMind(dbPath)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { db.Close() })
		chain = append(chain, db)
		log.Printf("[GEO] Using MaxMind database %s", dbPath)
	}

	if cfg.IPAPI {
		l := geo.NewIPAPILocator()
		if cfg.IPAPIURL != "" {
			l.URL = cfg.IPAPIURL
		}
		chain = append(chain, l)
	}
	if len(chain) == 0 {
		log.Println("[GEO] No geolocation source configured, only local addresses will be placed")
	}

	cache := geo.NewCache(chain, cfg.CacheSize)
	cache.OnResult = metrics.GeoResult
	return cache, closeAll, nil
}

func openTrie(dir string) (*utils.PrefixTrie, error) {
	if dir == "" {
		return utils.OpenMemoryPrefixTrie()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trie directory: %w", err)
	}
	return utils.OpenPrefixTrie(dir)
}

func loadGeofeed(ctx context.Context, fetcher *utils.Fetcher, prefixes *geo.PrefixLocator, src string) (int, error) {
	var r io.ReadCloser
	var err error
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		r, err = fetcher.Open(ctx, src)
	} else {
		r, err = os.Open(src)
	}
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return prefixes.Load(r)
}
