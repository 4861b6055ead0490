// Package store implements the in-memory authoritative set of config
// entries: a map keyed by name, a monotonic highwater mark, and
// copy-on-read snapshots so readers never observe a partial merge.
package store

import (
	"log/slog"
	"sync"

	"github.com/reforgehq/reforge-go/internal/obsmetrics"
	"github.com/reforgehq/reforge-go/internal/wire"
)

// Store holds the current authoritative entry per key plus the
// highwater mark and last-seen project pointer. Zero value is not
// usable; construct with New.
type Store struct {
	mu        sync.RWMutex
	byKey     map[string]wire.ConfigEntry
	highwater uint64
	pointer   *wire.ConfigServicePointer
	logger    *slog.Logger
	metrics   *obsmetrics.Metrics

	readyOnce sync.Once
	onReady   func()
}

// SetMetrics attaches optional Prometheus instrumentation. Safe to call
// once before the store receives any writes; nil disables
// instrumentation (the default).
func (s *Store) SetMetrics(m *obsmetrics.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// SetReadyHook registers fn to run exactly once, the first time the
// store holds at least one key — whether that happens during the
// initial checkpoint load or from a later SSE/poll merge. Call before
// any writes reach the store.
func (s *Store) SetReadyHook(fn func()) {
	s.mu.Lock()
	s.onReady = fn
	s.mu.Unlock()
}

func (s *Store) maybeFireReadyLocked() {
	if s.onReady != nil && len(s.byKey) > 0 {
		s.readyOnce.Do(s.onReady)
	}
}

func (s *Store) reportGaugesLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.StoreKeys.Set(float64(len(s.byKey)))
	s.metrics.StoreHighwater.Set(float64(s.highwater))
}

// New returns an empty store. logger may be nil.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{byKey: make(map[string]wire.ConfigEntry), logger: logger.With("component", "store")}
}

// Set applies entry under the merge invariants:
//  1. an id <= the stored entry's id is ignored;
//  2. a tombstone (no rows) with a strictly greater id deletes the key,
//     otherwise it is a no-op;
//  3. highwater advances on every id observed, including ignored ones.
//
// Returns whether the visible store changed.
func (s *Store) Set(entry wire.ConfigEntry, source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.setLocked(entry)
	s.reportGaugesLocked()
	s.maybeFireReadyLocked()
	s.logger.Debug("config set",
		"key", entry.Key, "id", entry.ID, "source", source,
		"changed", changed, "tombstone", entry.IsTombstone(),
	)
	return changed
}

func (s *Store) setLocked(entry wire.ConfigEntry) bool {
	if entry.ID > s.highwater {
		s.highwater = entry.ID
	}

	existing, ok := s.byKey[entry.Key]
	if ok && entry.ID <= existing.ID {
		return false
	}

	if entry.IsTombstone() {
		if !ok {
			return false
		}
		delete(s.byKey, entry.Key)
		return true
	}

	s.byKey[entry.Key] = entry
	return true
}

// SetAll applies Set to each entry in arrival order, then records the
// envelope's project pointer. changed reports whether any key's value
// changed; nonEmpty reports whether the store holds at least one key
// after this call. The ready hook fires on the first write that leaves
// the store non-empty, independently of this return value.
func (s *Store) SetAll(cfgs wire.Configs, source string) (changed bool, nonEmpty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range cfgs.Configs {
		if s.setLocked(entry) {
			changed = true
		}
	}
	if cfgs.ConfigServicePointer != nil {
		ptr := *cfgs.ConfigServicePointer
		s.pointer = &ptr
	}

	nonEmpty = len(s.byKey) > 0
	s.reportGaugesLocked()
	s.maybeFireReadyLocked()
	s.logger.Info("config batch merged",
		"source", source, "entries", len(cfgs.Configs),
		"changed", changed, "highwater", s.highwater, "keys", len(s.byKey),
	)
	return changed, nonEmpty
}

// Get returns a snapshot of the entry for key, if present.
func (s *Store) Get(key string) (wire.ConfigEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.byKey[key]
	return entry, ok
}

// Highwater returns the maximum entry id ever observed.
func (s *Store) Highwater() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highwater
}

// ProjectPointer returns the last envelope's project pointer, if any.
func (s *Store) ProjectPointer() (wire.ConfigServicePointer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pointer == nil {
		return wire.ConfigServicePointer{}, false
	}
	return *s.pointer, true
}

// Snapshot returns a copy of the current key->entry map, suitable for
// cache serialization. Mutating the result has no effect on the store.
func (s *Store) Snapshot() map[string]wire.ConfigEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]wire.ConfigEntry, len(s.byKey))
	for k, v := range s.byKey {
		out[k] = v
	}
	return out
}

// Len returns the number of keys currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// Envelope builds a wire.Configs from the current snapshot, for
// persisting to the disk or shared cache.
func (s *Store) Envelope() wire.Configs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfgs := wire.Configs{Configs: make([]wire.ConfigEntry, 0, len(s.byKey))}
	for _, v := range s.byKey {
		cfgs.Configs = append(cfgs.Configs, v)
	}
	if s.pointer != nil {
		ptr := *s.pointer
		cfgs.ConfigServicePointer = &ptr
	}
	return cfgs
}
