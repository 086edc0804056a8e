package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rishi925-eng/Vital-Trace/internal/types"
)

// MemoryStore keeps alerts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	alerts   map[string]*types.Alert
	byDevice map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:   make(map[string]*types.Alert),
		byDevice: make(map[string][]string),
	}
}

func (m *MemoryStore) HasActive(_ context.Context, deviceID string, kind types.RuleKind) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.byDevice[deviceID] {
		a := m.alerts[id]
		if a.RuleKind == kind && a.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) Create(_ context.Context, alert types.Alert) (string, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	a := alert.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = &a
	m.byDevice[a.DeviceID] = append(m.byDevice[a.DeviceID], a.ID)
	return a.ID, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return types.Alert{}, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) TransitionStatus(_ context.Context, id string, from, to types.Status, ts time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return false, ErrNotFound
	}
	if a.Status != from {
		return false, nil
	}
	applyTransition(a, to, ts)
	return true, nil
}

func (m *MemoryStore) RaiseSeverity(_ context.Context, id string, severity types.Severity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	if severity.Rank() > a.Severity.Rank() {
		a.Severity = severity
	}
	return nil
}

func (m *MemoryStore) ListOpen(_ context.Context, deviceID string) ([]types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Alert
	if deviceID != "" {
		for _, id := range m.byDevice[deviceID] {
			if a := m.alerts[id]; a.Status.Open() {
				out = append(out, a.Clone())
			}
		}
	} else {
		for _, a := range m.alerts {
			if a.Status.Open() {
				out = append(out, a.Clone())
			}
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) ListSince(_ context.Context, since time.Time) ([]types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Alert
	for _, a := range m.alerts {
		if !a.CreatedAt.Before(since) {
			out = append(out, a.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(alerts []types.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].ID < alerts[j].ID
		}
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}

// StaticDirectory serves device profiles loaded from configuration.
type StaticDirectory struct {
	mu      sync.RWMutex
	devices map[string]types.DeviceProfile
}

func NewStaticDirectory(devices map[string]types.DeviceProfile) *StaticDirectory {
	d := &StaticDirectory{devices: make(map[string]types.DeviceProfile, len(devices))}
	for id, p := range devices {
		p.DeviceID = id
		d.devices[id] = p
	}
	return d
}

func (d *StaticDirectory) Lookup(_ context.Context, deviceID string) (types.DeviceProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.devices[deviceID]
	if !ok {
		return types.DeviceProfile{}, ErrUnknownDevice
	}
	return p, nil
}

// Replace swaps the directory contents, e.g. after a config reload.
func (d *StaticDirectory) Replace(devices map[string]types.DeviceProfile) {
	next := make(map[string]types.DeviceProfile, len(devices))
	for id, p := range devices {
		p.DeviceID = id
		next[id] = p
	}
	d.mu.Lock()
	d.devices = next
	d.mu.Unlock()
}

// IDs returns the registered device IDs, sorted.
func (d *StaticDirectory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.devices))
	for id := range d.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
