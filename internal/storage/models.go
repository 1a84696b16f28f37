package storage

import (
	"context"
	"errors"
	"time"

	"spotwatch/internal/domain"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when a keyed lookup misses.
	ErrNotFound = errors.New("storage: record not found")
	// ErrConflict is returned when creating a record whose key already exists.
	ErrConflict = errors.New("storage: record already exists")
)

// PriceHistoryStore is the append-only price sample history.
type PriceHistoryStore interface {
	// AppendPricePoints stores points and returns the ones actually inserted; re-appending an existing
	// (family, region, zone, observed_at) is a no-op.
	AppendPricePoints(ctx context.Context, points []domain.PricePoint) ([]domain.PricePoint, error)
	// ListPricePoints returns points for family observed in [from, to), ordered by time. Empty region means all.
	ListPricePoints(ctx context.Context, family string, from, to time.Time, region string) ([]domain.PricePoint, error)
	// LatestPricePointBefore returns the newest point in [from, before) for the exact series, or ErrNotFound.
	LatestPricePointBefore(ctx context.Context, family, region, zone string, from, before time.Time) (domain.PricePoint, error)
}

// ResourceStore persists spot resources. Records are never deleted.
type ResourceStore interface {
	CreateResource(ctx context.Context, res domain.Resource) error
	GetResource(ctx context.Context, id string) (domain.Resource, error)
	UpdateResource(ctx context.Context, res domain.Resource) error
	ListResourcesByOwner(ctx context.Context, ownerID string) ([]domain.Resource, error)
	ListOpenResources(ctx context.Context) ([]domain.Resource, error)
}

// PreferenceStore keeps one notification preference per owner.
type PreferenceStore interface {
	GetPreference(ctx context.Context, ownerID string) (domain.NotificationPreference, error)
	UpsertPreference(ctx context.Context, pref domain.NotificationPreference) error
}

// NotificationLogStore is the append-only notification audit trail.
type NotificationLogStore interface {
	AppendNotificationLog(ctx context.Context, entry domain.NotificationLogEntry) error
	// ListNotificationLogs returns up to limit entries, newest first. A non-positive limit yields none.
	ListNotificationLogs(ctx context.Context, ownerID string, limit int) ([]domain.NotificationLogEntry, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is everything the application needs from a store.
type Backend interface {
	PriceHistoryStore
	ResourceStore
	PreferenceStore
	NotificationLogStore
	Close()
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
	_ Backend        = (*MemoryStore)(nil)
)
