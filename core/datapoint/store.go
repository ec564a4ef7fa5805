package datapoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// Kind describes the type of a stored value.
type Kind int

const (
	KindNumber Kind = iota
	KindBool
	KindText
)

// Value is a single datapoint sample.
type Value struct {
	Kind        Kind
	Number      float64
	Bool        bool
	Text        string
	TimestampMs int64
}

// Options controls the freshness windows used for the snapshot views.
type Options struct {
	CapMaxAgeMs    int64 `json:"cap_max_age_ms"`
	TariffMaxAgeMs int64 `json:"tariff_max_age_ms"`
	AssistMaxAgeMs int64 `json:"assist_max_age_ms"`
}

// SetDefaults fills unset windows.
func (o *Options) SetDefaults() {
	if o.CapMaxAgeMs <= 0 {
		o.CapMaxAgeMs = 30000
	}
	if o.TariffMaxAgeMs <= 0 {
		o.TariffMaxAgeMs = 120000
	}
	if o.AssistMaxAgeMs <= 0 {
		o.AssistMaxAgeMs = 15000
	}
}

// Store keeps the latest value per key. It is safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string]Value
	opts Options
}

// NewStore returns an empty store.
func NewStore(opts Options) *Store {
	opts.SetDefaults()
	return &Store{data: make(map[string]Value), opts: opts}
}

func (s *Store) put(key string, v Value) {
	s.mu.Lock()
	if cur, ok := s.data[key]; ok && cur.TimestampMs > v.TimestampMs {
		s.mu.Unlock()
		return
	}
	s.data[key] = v
	s.mu.Unlock()
}

// SetNumber stores a numeric sample. Older samples never replace newer ones.
func (s *Store) SetNumber(key string, v float64, tsMs int64) {
	s.put(key, Value{Kind: KindNumber, Number: v, TimestampMs: tsMs})
}

// SetBool stores a boolean sample.
func (s *Store) SetBool(key string, v bool, tsMs int64) {
	s.put(key, Value{Kind: KindBool, Bool: v, TimestampMs: tsMs})
}

// SetText stores a textual sample.
func (s *Store) SetText(key string, v string, tsMs int64) {
	s.put(key, Value{Kind: KindText, Text: v, TimestampMs: tsMs})
}

// ErrNotFinite is returned by Set for NaN and infinite numbers.
var ErrNotFinite = errors.New("non-finite number")

func (s *Store) setFinite(key string, f float64, tsMs int64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("datapoint %s: %w", key, ErrNotFinite)
	}
	s.SetNumber(key, f, tsMs)
	return nil
}

// Set stores a value decoded from JSON. Numeric and boolean strings are
// converted to their typed form. NaN and infinities are rejected and leave
// the previous sample in place.
func (s *Store) Set(key string, raw any, tsMs int64) error {
	switch v := raw.(type) {
	case float64:
		return s.setFinite(key, v, tsMs)
	case float32:
		return s.setFinite(key, float64(v), tsMs)
	case int:
		s.SetNumber(key, float64(v), tsMs)
	case int64:
		s.SetNumber(key, float64(v), tsMs)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("datapoint %s: %w", key, err)
		}
		return s.setFinite(key, f, tsMs)
	case bool:
		s.SetBool(key, v, tsMs)
	case string:
		t := strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return s.setFinite(key, f, tsMs)
		} else if b, err := strconv.ParseBool(t); err == nil {
			s.SetBool(key, b, tsMs)
		} else {
			s.SetText(key, v, tsMs)
		}
	case nil:
		s.Delete(key)
	default:
		return fmt.Errorf("datapoint %s: unsupported value type %T", key, raw)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// Get returns the raw value for key.
func (s *Store) Get(key string) (Value, bool) {
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()
	return v, ok
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) reader() reader {
	return reader{get: s.Get, opts: s.opts}
}

// GetFreshNumber returns the value of key when it is numeric and no older
// than maxAgeMs. A non-positive maxAgeMs disables the age check.
func (s *Store) GetFreshNumber(key string, maxAgeMs, nowMs int64) (float64, bool) {
	return s.reader().freshNumber(key, maxAgeMs, nowMs)
}

// GetFreshBool returns the value of key when it is boolean and fresh.
func (s *Store) GetFreshBool(key string, maxAgeMs, nowMs int64) (bool, bool) {
	return s.reader().freshBool(key, maxAgeMs, nowMs)
}

// IsStale reports whether key is missing or older than maxAgeMs.
func (s *Store) IsStale(key string, maxAgeMs, nowMs int64) bool {
	return s.reader().isStale(key, maxAgeMs, nowMs)
}

// Caps builds the cap snapshot. ok is false when no cap datapoint is fresh.
func (s *Store) Caps(nowMs int64) (model.CapSnapshot, bool) {
	return s.reader().caps(nowMs)
}

// Tariff builds the tariff snapshot. Stale permission flags read as allowed.
func (s *Store) Tariff(nowMs int64) (model.TariffSnapshot, bool) {
	return s.reader().tariff(nowMs)
}

// AssistRequestW returns the fresh assist request or 0.
func (s *Store) AssistRequestW(nowMs int64) float64 {
	return s.reader().assist(nowMs)
}

// View returns a unit-scoped view: lookups try "<unit>/<key>" before "<key>".
func (s *Store) View(unitID string) *View {
	return &View{store: s, unit: unitID}
}

// View is a read-only, unit-scoped window on a Store.
type View struct {
	store *Store
	unit  string
}

func (v *View) get(key string) (Value, bool) {
	if v.unit != "" {
		if val, ok := v.store.Get(v.unit + "/" + key); ok {
			return val, true
		}
	}
	return v.store.Get(key)
}

func (v *View) reader() reader {
	return reader{get: v.get, opts: v.store.opts}
}

// Unit returns the unit identifier of the view.
func (v *View) Unit() string { return v.unit }

func (v *View) GetFreshNumber(key string, maxAgeMs, nowMs int64) (float64, bool) {
	return v.reader().freshNumber(key, maxAgeMs, nowMs)
}

func (v *View) GetFreshBool(key string, maxAgeMs, nowMs int64) (bool, bool) {
	return v.reader().freshBool(key, maxAgeMs, nowMs)
}

func (v *View) IsStale(key string, maxAgeMs, nowMs int64) bool {
	return v.reader().isStale(key, maxAgeMs, nowMs)
}

func (v *View) Caps(nowMs int64) (model.CapSnapshot, bool) {
	return v.reader().caps(nowMs)
}

func (v *View) Tariff(nowMs int64) (model.TariffSnapshot, bool) {
	return v.reader().tariff(nowMs)
}

func (v *View) AssistRequestW(nowMs int64) float64 {
	return v.reader().assist(nowMs)
}
