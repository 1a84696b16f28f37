package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"spotwatch/internal/domain"
)

type seriesKey struct {
	family, region, zone string
}

type resourceRow struct {
	res      domain.Resource
	workload []byte
}

type logRow struct {
	entry   domain.NotificationLogEntry
	results []byte
}

// MemoryStore is a process-local Backend. Records pass through the same serialization as the
// Postgres store so callers never share memory with it.
type MemoryStore struct {
	mu          sync.RWMutex
	prices      map[seriesKey][]domain.PricePoint
	resources   map[string]resourceRow
	preferences map[string][]byte
	logs        []logRow
}

type preferenceRow struct {
	Channels          json.RawMessage   `json:"channels"`
	AllowedSeverities []domain.Severity `json:"allowed_severities"`
	MinSeverity       domain.Severity   `json:"min_severity"`
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices:      make(map[seriesKey][]domain.PricePoint),
		resources:   make(map[string]resourceRow),
		preferences: make(map[string][]byte),
	}
}

// Close is a no-op.
func (m *MemoryStore) Close() {}

// AppendPricePoints stores points, skipping ones already present.
func (m *MemoryStore) AppendPricePoints(_ context.Context, points []domain.PricePoint) ([]domain.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := make([]domain.PricePoint, 0, len(points))
	for _, p := range points {
		key := seriesKey{p.InstanceFamily, p.Region, p.Zone}
		series := m.prices[key]
		dup := false
		for _, existing := range series {
			if existing.ObservedAt.Equal(p.ObservedAt) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		p.ObservedAt = p.ObservedAt.UTC()
		series = append(series, p)
		sort.Slice(series, func(i, j int) bool { return series[i].ObservedAt.Before(series[j].ObservedAt) })
		m.prices[key] = series
		inserted = append(inserted, p)
	}
	return inserted, nil
}

// ListPricePoints lists points for family within [from, to).
func (m *MemoryStore) ListPricePoints(_ context.Context, family string, from, to time.Time, region string) ([]domain.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.PricePoint, 0)
	for key, series := range m.prices {
		if key.family != family || (region != "" && key.region != region) {
			continue
		}
		for _, p := range series {
			if !p.ObservedAt.Before(from) && p.ObservedAt.Before(to) {
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].Zone < out[j].Zone
		}
		return out[i].ObservedAt.Before(out[j].ObservedAt)
	})
	return out, nil
}

// LatestPricePointBefore returns the newest point of a series in [from, before).
func (m *MemoryStore) LatestPricePointBefore(_ context.Context, family, region, zone string, from, before time.Time) (domain.PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	series := m.prices[seriesKey{family, region, zone}]
	for i := len(series) - 1; i >= 0; i-- {
		p := series[i]
		if p.ObservedAt.Before(before) {
			if p.ObservedAt.Before(from) {
				break
			}
			return p, nil
		}
	}
	return domain.PricePoint{}, ErrNotFound
}

// CreateResource inserts a resource; an existing id yields ErrConflict.
func (m *MemoryStore) CreateResource(_ context.Context, res domain.Resource) error {
	row, err := toResourceRow(res)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.resources[res.ID]; exists {
		return ErrConflict
	}
	m.resources[res.ID] = row
	return nil
}

// GetResource loads a resource by id.
func (m *MemoryStore) GetResource(_ context.Context, id string) (domain.Resource, error) {
	m.mu.RLock()
	row, ok := m.resources[id]
	m.mu.RUnlock()
	if !ok {
		return domain.Resource{}, ErrNotFound
	}
	return fromResourceRow(row)
}

// UpdateResource overwrites a stored resource.
func (m *MemoryStore) UpdateResource(_ context.Context, res domain.Resource) error {
	row, err := toResourceRow(res)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.resources[res.ID]
	if !ok {
		return ErrNotFound
	}
	// identity columns are immutable
	row.res.OwnerID = existing.res.OwnerID
	row.res.Region = existing.res.Region
	row.res.InstanceFamily = existing.res.InstanceFamily
	row.res.MaxPrice = existing.res.MaxPrice
	row.res.CreatedAt = existing.res.CreatedAt
	m.resources[res.ID] = row
	return nil
}

// ListResourcesByOwner lists an owner's resources, newest first.
func (m *MemoryStore) ListResourcesByOwner(_ context.Context, ownerID string) ([]domain.Resource, error) {
	out, err := m.filterResources(func(r domain.Resource) bool { return r.OwnerID == ownerID })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListOpenResources lists resources not in a terminal state, oldest first.
func (m *MemoryStore) ListOpenResources(_ context.Context) ([]domain.Resource, error) {
	out, err := m.filterResources(func(r domain.Resource) bool { return !r.State.Terminal() })
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) filterResources(keep func(domain.Resource) bool) ([]domain.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Resource, 0)
	for _, row := range m.resources {
		if !keep(row.res) {
			continue
		}
		res, err := fromResourceRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// GetPreference loads an owner's preference.
func (m *MemoryStore) GetPreference(_ context.Context, ownerID string) (domain.NotificationPreference, error) {
	m.mu.RLock()
	data, ok := m.preferences[ownerID]
	m.mu.RUnlock()
	if !ok {
		return domain.NotificationPreference{}, ErrNotFound
	}

	var row preferenceRow
	if err := json.Unmarshal(data, &row); err != nil {
		return domain.NotificationPreference{}, fmt.Errorf("decode preference: %w", err)
	}
	channels, err := domain.UnmarshalChannels(row.Channels)
	if err != nil {
		return domain.NotificationPreference{}, err
	}
	return domain.NotificationPreference{
		OwnerID:           ownerID,
		Channels:          channels,
		AllowedSeverities: row.AllowedSeverities,
		MinSeverity:       row.MinSeverity,
	}, nil
}

// UpsertPreference creates or replaces the owner's preference.
func (m *MemoryStore) UpsertPreference(_ context.Context, pref domain.NotificationPreference) error {
	channels, err := domain.MarshalChannels(pref.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	minSev := pref.MinSeverity
	if minSev == "" {
		minSev = domain.SeverityInfo
	}
	data, err := json.Marshal(preferenceRow{
		Channels:          channels,
		AllowedSeverities: pref.AllowedSeverities,
		MinSeverity:       minSev,
	})
	if err != nil {
		return fmt.Errorf("encode preference: %w", err)
	}

	m.mu.Lock()
	m.preferences[pref.OwnerID] = data
	m.mu.Unlock()
	return nil
}

// AppendNotificationLog appends an entry.
func (m *MemoryStore) AppendNotificationLog(_ context.Context, entry domain.NotificationLogEntry) error {
	results, err := json.Marshal(entry.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	meta := make(map[string]string, len(entry.Metadata))
	for k, v := range entry.Metadata {
		meta[k] = v
	}
	entry.Metadata = meta
	entry.Results = nil

	m.mu.Lock()
	m.logs = append(m.logs, logRow{entry: entry, results: results})
	m.mu.Unlock()
	return nil
}

// ListNotificationLogs lists an owner's most recent entries.
func (m *MemoryStore) ListNotificationLogs(_ context.Context, ownerID string, limit int) ([]domain.NotificationLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.NotificationLogEntry, 0)
	if limit <= 0 {
		return out, nil
	}
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		row := m.logs[i]
		if row.entry.OwnerID != ownerID {
			continue
		}
		entry := row.entry
		entry.Metadata = make(map[string]string, len(row.entry.Metadata))
		for k, v := range row.entry.Metadata {
			entry.Metadata[k] = v
		}
		if err := json.Unmarshal(row.results, &entry.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func toResourceRow(res domain.Resource) (resourceRow, error) {
	workload, err := encodeWorkload(res.Workload)
	if err != nil {
		return resourceRow{}, err
	}
	res.Workload = nil
	return resourceRow{res: res, workload: workload}, nil
}

func fromResourceRow(row resourceRow) (domain.Resource, error) {
	res := row.res
	workload, err := decodeWorkload(row.workload)
	if err != nil {
		return domain.Resource{}, err
	}
	res.Workload = workload
	return res, nil
}
