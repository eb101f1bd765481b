// Package utils holds storage and download helpers shared by the geolocation
// sources.
package utils

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// PrefixTrie is a badger-backed longest-prefix-match table. IPv4 and IPv6
// prefixes live side by side; an IPv4-mapped IPv6 address is looked up as
// IPv4.
type PrefixTrie struct {
	db    *badger.DB
	cache sync.Map // netip.Addr -> Match
}

// Match is the most specific prefix containing a looked-up address. A zero
// Match means nothing matched.
type Match struct {
	Prefix netip.Prefix
	Value  []byte
}

func (m Match) Found() bool { return m.Prefix.IsValid() }

func OpenPrefixTrie(path string) (*PrefixTrie, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open prefix trie at %s: %w", path, err)
	}
	return &PrefixTrie{db: db}, nil
}

// OpenMemoryPrefixTrie keeps everything in memory.
func OpenMemoryPrefixTrie() (*PrefixTrie, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory prefix trie: %w", err)
	}
	return &PrefixTrie{db: db}, nil
}

func (t *PrefixTrie) Close() error {
	return t.db.Close()
}

// Key layout: family byte (4 or 6), masked address bytes, prefix length.
func prefixKey(p netip.Prefix) []byte {
	p = p.Masked()
	addr := p.Addr()
	raw := addr.AsSlice()
	key := make([]byte, 0, len(raw)+2)
	if addr.Is4() {
		key = append(key, 4)
	} else {
		key = append(key, 6)
	}
	key = append(key, raw...)
	return append(key, byte(p.Bits()))
}

func normalize(p netip.Prefix) (netip.Prefix, error) {
	if !p.IsValid() {
		return netip.Prefix{}, fmt.Errorf("invalid prefix %v", p)
	}
	if p.Addr().Is4In6() && p.Bits() >= 96 {
		return netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96).Masked(), nil
	}
	return p.Masked(), nil
}

// Insert stores value under prefix, replacing any previous value.
func (t *PrefixTrie) Insert(prefix netip.Prefix, value []byte) error {
	return t.InsertBatch(map[netip.Prefix][]byte{prefix: value})
}

// InsertBatch stores many prefixes in one write batch.
func (t *PrefixTrie) InsertBatch(entries map[netip.Prefix][]byte) error {
	wb := t.db.NewWriteBatch()
	defer wb.Cancel()
	for p, v := range entries {
		p, err := normalize(p)
		if err != nil {
			return err
		}
		if err := wb.Set(prefixKey(p), v); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}
	t.cache.Clear()
	return nil
}

// Lookup returns the most specific stored prefix containing addr.
func (t *PrefixTrie) Lookup(addr netip.Addr) (Match, error) {
	if !addr.IsValid() {
		return Match{}, fmt.Errorf("invalid address")
	}
	addr = addr.Unmap()
	if v, ok := t.cache.Load(addr); ok {
		return v.(Match), nil
	}

	var found Match
	err := t.db.View(func(txn *badger.Txn) error {
		for bits := addr.BitLen(); bits >= 0; bits-- {
			p := netip.PrefixFrom(addr, bits).Masked()
			item, err := txn.Get(prefixKey(p))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			found = Match{Prefix: p, Value: val}
			return nil
		}
		return nil
	})
	if err != nil {
		return Match{}, err
	}
	t.cache.Store(addr, found)
	return found, nil
}

// ForEach visits every stored prefix in key order.
func (t *PrefixTrie) ForEach(fn func(p netip.Prefix, v []byte) error) error {
	return t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			p, ok := decodeKey(item.Key())
			if !ok {
				continue
			}
			if err := item.Value(func(v []byte) error { return fn(p, v) }); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len counts the stored prefixes.
func (t *PrefixTrie) Len() (int, error) {
	n := 0
	err := t.ForEach(func(netip.Prefix, []byte) error {
		n++
		return nil
	})
	return n, err
}

func decodeKey(k []byte) (netip.Prefix, bool) {
	switch {
	case len(k) == 6 && k[0] == 4:
		addr := netip.AddrFrom4([4]byte(k[1:5]))
		return netip.PrefixFrom(addr, int(k[5])), true
	case len(k) == 18 && k[0] == 6:
		addr := netip.AddrFrom16([16]byte(k[1:17]))
		return netip.PrefixFrom(addr, int(k[17])), true
	}
	return netip.Prefix{}, false
}
