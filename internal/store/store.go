// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store persists the device inventory learned from the CCU:
// device descriptions pushed via newDevices and paramset descriptions
// fetched over XML-RPC. Records are JSON under prefixed Badger keys:
//
//   - desc:<interface>:<address>        device/channel description
//   - pset:<interface>:<address>:<set>  paramset description
//
// Values survive a JSON round trip, so numeric fields read back as
// float64 regardless of how the wire codec decoded them.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/ManuGH/hm2g/internal/log"
)

const (
	descPrefix = "desc:"
	psetPrefix = "pset:"
)

// Store is the Badger-backed device inventory.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Open opens (or creates) the inventory under <dataDir>/store.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "store")
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	logger := log.WithComponent("store")
	logger.Info().
		Str("event", "store.opened").
		Str("path", path).
		Msg("device store opened")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func descKey(interfaceID, address string) []byte {
	return []byte(descPrefix + interfaceID + ":" + address)
}

func psetKey(interfaceID, address, paramset string) []byte {
	return []byte(psetPrefix + interfaceID + ":" + address + ":" + paramset)
}

// PutDevices stores a batch of device descriptions in one transaction.
// Each description must carry a string ADDRESS field.
func (s *Store) PutDevices(ctx context.Context, interfaceID string, descriptions []map[string]any) error {
	if len(descriptions) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for i, desc := range descriptions {
			addr, ok := desc["ADDRESS"].(string)
			if !ok || addr == "" {
				return fmt.Errorf("device description %d: missing ADDRESS", i)
			}
			buf, err := json.Marshal(desc)
			if err != nil {
				return fmt.Errorf("encode device %s: %w", addr, err)
			}
			if err := txn.Set(descKey(interfaceID, addr), buf); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDevice returns the stored description, or nil when unknown.
func (s *Store) GetDevice(ctx context.Context, interfaceID, address string) (map[string]any, error) {
	var out map[string]any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(descKey(interfaceID, address))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// DeleteDevices removes the given addresses and any paramset
// descriptions recorded for them. Unknown addresses are ignored.
func (s *Store) DeleteDevices(ctx context.Context, interfaceID string, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, addr := range addresses {
			if err := txn.Delete(descKey(interfaceID, addr)); err != nil {
				return err
			}
			prefix := []byte(psetPrefix + interfaceID + ":" + addr + ":")
			if err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListDevices returns every stored description for the interface,
// ordered by address.
func (s *Store) ListDevices(ctx context.Context, interfaceID string) ([]map[string]any, error) {
	prefix := []byte(descPrefix + interfaceID + ":")
	var list []map[string]any
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var desc map[string]any
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &desc)
			}); err != nil {
				return err
			}
			list = append(list, desc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// DeviceAddresses returns the stored addresses for the interface,
// ordered.
func (s *Store) DeviceAddresses(ctx context.Context, interfaceID string) ([]string, error) {
	prefix := []byte(descPrefix + interfaceID + ":")
	var addrs []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			addrs = append(addrs, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return addrs, nil
}

// PutParamsetDescription stores one paramset description, keyed by
// device address and paramset name (VALUES, MASTER, ...).
func (s *Store) PutParamsetDescription(ctx context.Context, interfaceID, address, paramset string, desc map[string]any) error {
	buf, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encode paramset %s/%s: %w", address, paramset, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(psetKey(interfaceID, address, paramset), buf)
	})
}

// GetParamsetDescription returns a stored paramset description, or nil
// when unknown.
func (s *Store) GetParamsetDescription(ctx context.Context, interfaceID, address, paramset string) (map[string]any, error) {
	var out map[string]any
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(psetKey(interfaceID, address, paramset))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

// DeleteInterface drops everything recorded for the interface. Called
// on deinit so a re-registered interface starts from a clean slate.
func (s *Store) DeleteInterface(ctx context.Context, interfaceID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{
			[]byte(descPrefix + interfaceID + ":"),
			[]byte(psetPrefix + interfaceID + ":"),
		} {
			if err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("event", "store.interface_deleted").
		Str(log.FieldInterfaceID, interfaceID).
		Msg("interface records deleted")
	return nil
}

// deletePrefix collects matching keys first. Badger does not allow
// deleting under an open iterator.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Counts summarizes the inventory for the health endpoint.
type Counts struct {
	Devices   int `json:"devices"`
	Paramsets int `json:"paramset_descriptions"`
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			key := string(it.Item().Key())
			switch {
			case strings.HasPrefix(key, descPrefix):
				c.Devices++
			case strings.HasPrefix(key, psetPrefix):
				c.Paramsets++
			}
		}
		return nil
	})
	if err != nil {
		return Counts{}, err
	}
	return c, nil
}

type paramsetExport struct {
	Interface string         `json:"interface"`
	Address   string         `json:"address"`
	Paramset  string         `json:"paramset"`
	Values    map[string]any `json:"values"`
}

type snapshot struct {
	ExportedAt time.Time                   `json:"exported_at"`
	Devices    map[string][]map[string]any `json:"devices"`
	Paramsets  []paramsetExport            `json:"paramset_descriptions"`
}

// ExportJSON writes a snapshot of the whole inventory to path. The
// write is atomic, a crash mid-export never leaves a torn file.
func (s *Store) ExportJSON(ctx context.Context, path string) error {
	snap := snapshot{
		ExportedAt: time.Now().UTC(),
		Devices:    map[string][]map[string]any{},
	}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			item := it.Item()
			key := string(item.Key())
			var value map[string]any
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &value)
			}); err != nil {
				return err
			}
			switch {
			case strings.HasPrefix(key, descPrefix):
				iface, _, ok := splitDescKey(key)
				if !ok {
					continue
				}
				snap.Devices[iface] = append(snap.Devices[iface], value)
			case strings.HasPrefix(key, psetPrefix):
				iface, addr, pset, ok := splitPsetKey(key)
				if !ok {
					continue
				}
				snap.Paramsets = append(snap.Paramsets, paramsetExport{
					Interface: iface,
					Address:   addr,
					Paramset:  pset,
					Values:    value,
				})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	sort.Slice(snap.Paramsets, func(i, j int) bool {
		a, b := snap.Paramsets[i], snap.Paramsets[j]
		if a.Interface != b.Interface {
			return a.Interface < b.Interface
		}
		if a.Address != b.Address {
			return a.Address < b.Address
		}
		return a.Paramset < b.Paramset
	})

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending export file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Msg("cleanup pending export file")
		}
	}()

	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("write export data: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace export file: %w", err)
	}

	devices := 0
	for _, descs := range snap.Devices {
		devices += len(descs)
	}
	s.logger.Info().
		Str("event", "store.exported").
		Str("path", path).
		Int("devices", devices).
		Int("paramsets", len(snap.Paramsets)).
		Msg("inventory exported")
	return nil
}

// splitDescKey parses "desc:<interface>:<address>". Addresses may
// contain colons (channel suffixes), interface ids never do.
func splitDescKey(key string) (iface, address string, ok bool) {
	rest := strings.TrimPrefix(key, descPrefix)
	i := strings.Index(rest, ":")
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// splitPsetKey parses "pset:<interface>:<address>:<paramset>". The
// paramset name is the final segment and never contains a colon.
func splitPsetKey(key string) (iface, address, paramset string, ok bool) {
	rest := strings.TrimPrefix(key, psetPrefix)
	i := strings.Index(rest, ":")
	j := strings.LastIndex(rest, ":")
	if i < 0 || j <= i {
		return "", "", "", false
	}
	return rest[:i], rest[i+1 : j], rest[j+1:], true
}
