package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"spotwatch/internal/domain"
)

const (
	insertPricePointSQL = `INSERT INTO price_points (
        instance_family,
        region,
        zone,
        price,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (instance_family, region, zone, observed_at) DO NOTHING;`

	listPricePointsSQL = `SELECT
        instance_family,
        region,
        zone,
        price,
        observed_at
    FROM price_points
    WHERE instance_family = $1
      AND observed_at >= $2
      AND observed_at < $3
      AND ($4 = '' OR region = $4)
    ORDER BY observed_at, zone;`

	latestPricePointBeforeSQL = `SELECT
        instance_family,
        region,
        zone,
        price,
        observed_at
    FROM price_points
    WHERE instance_family = $1
      AND region = $2
      AND zone = $3
      AND observed_at >= $4
      AND observed_at < $5
    ORDER BY observed_at DESC
    LIMIT 1;`

	resourceColumns = `id,
        owner_id,
        provider_request_id,
        region,
        instance_family,
        max_price,
        state,
        status_code,
        status_message,
        provider_resource_id,
        public_address,
        workload_config,
        created_at,
        updated_at`

	insertResourceSQL = `INSERT INTO resources (` + resourceColumns + `) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    );`

	updateResourceSQL = `UPDATE resources
    SET
        provider_request_id  = $2,
        state                = $3,
        status_code          = $4,
        status_message       = $5,
        provider_resource_id = $6,
        public_address       = $7,
        workload_config      = $8,
        updated_at           = $9
    WHERE id = $1;`

	getResourceSQL = `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1;`

	listResourcesByOwnerSQL = `SELECT ` + resourceColumns + ` FROM resources
    WHERE owner_id = $1
    ORDER BY created_at DESC;`

	listOpenResourcesSQL = `SELECT ` + resourceColumns + ` FROM resources
    WHERE state NOT IN ('terminated', 'failed')
    ORDER BY created_at;`

	getPreferenceSQL = `SELECT
        owner_id,
        channels,
        allowed_severities,
        min_severity
    FROM notification_preferences
    WHERE owner_id = $1;`

	upsertPreferenceSQL = `INSERT INTO notification_preferences (
        owner_id,
        channels,
        allowed_severities,
        min_severity,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,NOW()
    )
    ON CONFLICT (owner_id) DO UPDATE
    SET channels           = EXCLUDED.channels,
        allowed_severities = EXCLUDED.allowed_severities,
        min_severity       = EXCLUDED.min_severity,
        updated_at         = EXCLUDED.updated_at;`

	insertNotificationLogSQL = `INSERT INTO notification_log (
        id,
        owner_id,
        subject,
        message,
        severity,
        metadata,
        results,
        logged_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    );`

	listNotificationLogsSQL = `SELECT
        id,
        owner_id,
        subject,
        message,
        severity,
        metadata,
        results,
        logged_at
    FROM notification_log
    WHERE owner_id = $1
    ORDER BY logged_at DESC
    LIMIT $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`

	uniqueViolation = "23505"
)

// Store aggregates access to price history, resources, preferences and the notification log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session when the connection is dropped
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AppendPricePoints inserts the points in one batch and returns the rows that were new.
func (s *Store) AppendPricePoints(ctx context.Context, points []domain.PricePoint) ([]domain.PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(insertPricePointSQL, p.InstanceFamily, p.Region, p.Zone, p.Price.String(), p.ObservedAt.UTC())
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	inserted := make([]domain.PricePoint, 0, len(points))
	for _, p := range points {
		tag, execErr := results.Exec()
		if execErr != nil {
			return nil, fmt.Errorf("append price point: %w", execErr)
		}
		if tag.RowsAffected() == 1 {
			p.ObservedAt = p.ObservedAt.UTC()
			inserted = append(inserted, p)
		}
	}
	return inserted, nil
}

// ListPricePoints lists points for an instance family within a time window.
func (s *Store) ListPricePoints(ctx context.Context, family string, from, to time.Time, region string) ([]domain.PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsSQL, family, from.UTC(), to.UTC(), region)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points: %w", queryErr)
	}
	defer rows.Close()

	points := make([]domain.PricePoint, 0)
	for rows.Next() {
		point, scanErr := scanPricePoint(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// LatestPricePointBefore returns the newest point of a series inside [from, before).
func (s *Store) LatestPricePointBefore(ctx context.Context, family, region, zone string, from, before time.Time) (domain.PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.PricePoint{}, err
	}

	rows, queryErr := pool.Query(ctx, latestPricePointBeforeSQL, family, region, zone, from.UTC(), before.UTC())
	if queryErr != nil {
		return domain.PricePoint{}, fmt.Errorf("latest price point: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return domain.PricePoint{}, rows.Err()
		}
		return domain.PricePoint{}, ErrNotFound
	}
	return scanPricePoint(rows)
}

// CreateResource inserts a new resource record.
func (s *Store) CreateResource(ctx context.Context, res domain.Resource) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	workload, err := encodeWorkload(res.Workload)
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertResourceSQL,
		res.ID,
		res.OwnerID,
		res.ProviderRequestID,
		res.Region,
		res.InstanceFamily,
		res.MaxPrice.String(),
		string(res.State),
		res.StatusCode,
		res.StatusMessage,
		res.ProviderResourceID,
		res.PublicAddress,
		workload,
		res.CreatedAt.UTC(),
		res.UpdatedAt.UTC(),
	)
	if execErr != nil {
		var pgErr *pgconn.PgError
		if errors.As(execErr, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("create resource: %w", execErr)
	}
	return nil
}

// GetResource loads a resource by id.
func (s *Store) GetResource(ctx context.Context, id string) (domain.Resource, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.Resource{}, err
	}

	rows, queryErr := pool.Query(ctx, getResourceSQL, id)
	if queryErr != nil {
		return domain.Resource{}, fmt.Errorf("get resource: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return domain.Resource{}, rows.Err()
		}
		return domain.Resource{}, ErrNotFound
	}
	return scanResource(rows)
}

// UpdateResource overwrites the mutable columns of a resource.
func (s *Store) UpdateResource(ctx context.Context, res domain.Resource) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	workload, err := encodeWorkload(res.Workload)
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, updateResourceSQL,
		res.ID,
		res.ProviderRequestID,
		string(res.State),
		res.StatusCode,
		res.StatusMessage,
		res.ProviderResourceID,
		res.PublicAddress,
		workload,
		res.UpdatedAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("update resource: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListResourcesByOwner lists an owner's resources, newest first.
func (s *Store) ListResourcesByOwner(ctx context.Context, ownerID string) ([]domain.Resource, error) {
	return s.listResources(ctx, listResourcesByOwnerSQL, ownerID)
}

// ListOpenResources lists every resource not yet in a terminal state.
func (s *Store) ListOpenResources(ctx context.Context) ([]domain.Resource, error) {
	return s.listResources(ctx, listOpenResourcesSQL)
}

func (s *Store) listResources(ctx context.Context, query string, args ...any) ([]domain.Resource, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list resources: %w", queryErr)
	}
	defer rows.Close()

	resources := make([]domain.Resource, 0)
	for rows.Next() {
		res, scanErr := scanResource(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		resources = append(resources, res)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return resources, nil
}

// GetPreference loads an owner's notification preference.
func (s *Store) GetPreference(ctx context.Context, ownerID string) (domain.NotificationPreference, error) {
	pool, err := s.getPool()
	if err != nil {
		return domain.NotificationPreference{}, err
	}

	var (
		owner      string
		channels   []byte
		severities []string
		minSev     string
	)
	scanErr := pool.QueryRow(ctx, getPreferenceSQL, ownerID).Scan(&owner, &channels, &severities, &minSev)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return domain.NotificationPreference{}, ErrNotFound
	}
	if scanErr != nil {
		return domain.NotificationPreference{}, fmt.Errorf("get preference: %w", scanErr)
	}

	decoded, err := domain.UnmarshalChannels(channels)
	if err != nil {
		return domain.NotificationPreference{}, err
	}

	pref := domain.NotificationPreference{
		OwnerID:     owner,
		Channels:    decoded,
		MinSeverity: domain.Severity(minSev),
	}
	for _, sev := range severities {
		pref.AllowedSeverities = append(pref.AllowedSeverities, domain.Severity(sev))
	}
	return pref, nil
}

// UpsertPreference creates the owner's preference or replaces it.
func (s *Store) UpsertPreference(ctx context.Context, pref domain.NotificationPreference) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	channels, err := domain.MarshalChannels(pref.Channels)
	if err != nil {
		return fmt.Errorf("encode channels: %w", err)
	}
	severities := make([]string, 0, len(pref.AllowedSeverities))
	for _, sev := range pref.AllowedSeverities {
		severities = append(severities, string(sev))
	}
	minSev := pref.MinSeverity
	if minSev == "" {
		minSev = domain.SeverityInfo
	}

	if _, execErr := pool.Exec(ctx, upsertPreferenceSQL, pref.OwnerID, channels, severities, string(minSev)); execErr != nil {
		return fmt.Errorf("upsert preference: %w", execErr)
	}
	return nil
}

// AppendNotificationLog writes one immutable log entry.
func (s *Store) AppendNotificationLog(ctx context.Context, entry domain.NotificationLogEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(nonNilMetadata(entry.Metadata))
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	results, err := json.Marshal(entry.Results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	_, execErr := pool.Exec(ctx, insertNotificationLogSQL,
		entry.ID,
		entry.OwnerID,
		entry.Subject,
		entry.Message,
		string(entry.Severity),
		metadata,
		results,
		entry.LoggedAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("append notification log: %w", execErr)
	}
	return nil
}

// ListNotificationLogs lists an owner's most recent log entries.
func (s *Store) ListNotificationLogs(ctx context.Context, ownerID string, limit int) ([]domain.NotificationLogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		return []domain.NotificationLogEntry{}, nil
	}

	rows, queryErr := pool.Query(ctx, listNotificationLogsSQL, ownerID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list notification logs: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]domain.NotificationLogEntry, 0, limit)
	for rows.Next() {
		var (
			entry    domain.NotificationLogEntry
			severity string
			metadata []byte
			results  []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.OwnerID,
			&entry.Subject,
			&entry.Message,
			&severity,
			&metadata,
			&results,
			&entry.LoggedAt,
		); err != nil {
			return nil, err
		}
		entry.Severity = domain.Severity(severity)
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		if err := json.Unmarshal(results, &entry.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

func scanPricePoint(rows pgx.Rows) (domain.PricePoint, error) {
	var (
		point    domain.PricePoint
		priceStr string
	)
	if err := rows.Scan(&point.InstanceFamily, &point.Region, &point.Zone, &priceStr, &point.ObservedAt); err != nil {
		return domain.PricePoint{}, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PricePoint{}, fmt.Errorf("parse price: %w", err)
	}
	point.Price = price
	return point, nil
}

func scanResource(rows pgx.Rows) (domain.Resource, error) {
	var (
		res         domain.Resource
		maxPriceStr string
		state       string
		workload    []byte
	)
	if err := rows.Scan(
		&res.ID,
		&res.OwnerID,
		&res.ProviderRequestID,
		&res.Region,
		&res.InstanceFamily,
		&maxPriceStr,
		&state,
		&res.StatusCode,
		&res.StatusMessage,
		&res.ProviderResourceID,
		&res.PublicAddress,
		&workload,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		return domain.Resource{}, err
	}

	maxPrice, err := decimal.NewFromString(maxPriceStr)
	if err != nil {
		return domain.Resource{}, fmt.Errorf("parse max price: %w", err)
	}
	res.MaxPrice = maxPrice
	res.State = domain.ResourceState(state)

	res.Workload, err = decodeWorkload(workload)
	if err != nil {
		return domain.Resource{}, err
	}
	return res, nil
}
