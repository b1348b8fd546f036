package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"market-alerts/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const alertColumns = `id,
        event_id,
        channel,
        kind,
        severity,
        instrument,
        title,
        description,
        url,
        payload,
        detected_at,
        created_at`

const (
	insertAlertSQL = `INSERT INTO alert_log (
        event_id,
        channel,
        kind,
        severity,
        instrument,
        title,
        description,
        url,
        payload,
        detected_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    ON CONFLICT (event_id, channel) DO UPDATE
    SET title       = EXCLUDED.title,
        description = EXCLUDED.description,
        payload     = EXCLUDED.payload
    RETURNING ` + alertColumns + `;`

	listRecentAlertsSQL = `SELECT ` + alertColumns + `
    FROM alert_log
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	listAlertsBetweenSQL = `SELECT ` + alertColumns + `
    FROM alert_log
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at, id
    LIMIT $3;`

	countAlertsSQL = `SELECT COUNT(*) FROM alert_log;`

	deleteAlertsBeforeSQL = `DELETE FROM alert_log WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	ListAlertsBetween(ctx context.Context, from, to time.Time, limit int) ([]AlertRecord, error)
	CountAlerts(ctx context.Context) (int64, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the PostgreSQL-backed alert audit log.
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

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the alert_log table and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
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
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// RecordAlert stores a delivered event. It satisfies the dispatcher's recorder hook.
func (s *Store) RecordAlert(ctx context.Context, channel string, event model.AlertEvent) error {
	rec, err := RecordFromEvent(channel, event)
	if err != nil {
		return err
	}
	_, err = s.InsertAlert(ctx, rec)
	return err
}

// InsertAlert persists an alert emission. Re-recording the same event on the
// same channel updates the stored row.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	payload := alert.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.EventID,
		alert.Channel,
		alert.Kind,
		alert.Severity,
		alert.InstrumentID,
		alert.Title,
		alert.Description,
		alert.URL,
		[]byte(payload),
		alert.DetectedAt,
	)

	rec, err := scanAlert(row)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts, newest first.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	return collectAlerts(rows, limit)
}

// ListAlertsBetween lists alerts created within [from, to), oldest first.
func (s *Store) ListAlertsBetween(ctx context.Context, from, to time.Time, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsBetweenSQL, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts between: %w", queryErr)
	}
	return collectAlerts(rows, 0)
}

// CountAlerts counts stored alerts.
func (s *Store) CountAlerts(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAlertsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count alerts: %w", scanErr)
	}
	return count, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many were removed.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// RecordFromEvent flattens an event into its audit row. Fields are folded
// into the JSON payload under "fields".
func RecordFromEvent(channel string, event model.AlertEvent) (AlertRecord, error) {
	doc := make(map[string]any, len(event.Payload)+1)
	for k, v := range event.Payload {
		doc[k] = v
	}
	if len(event.Fields) > 0 {
		fields := make([]map[string]string, 0, len(event.Fields))
		for _, f := range event.Fields {
			fields = append(fields, map[string]string{"name": f.Name, "value": f.Value})
		}
		doc["fields"] = fields
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("marshal alert payload: %w", err)
	}

	detected := event.DetectedAt
	if detected.IsZero() {
		detected = time.Now().UTC()
	}

	return AlertRecord{
		EventID:      event.ID,
		Channel:      channel,
		Kind:         string(event.Kind),
		Severity:     string(event.Severity),
		InstrumentID: event.InstrumentID,
		Title:        event.Title,
		Description:  event.Description,
		URL:          event.URL,
		Payload:      payload,
		DetectedAt:   detected,
	}, nil
}

func collectAlerts(rows pgx.Rows, capacity int) ([]AlertRecord, error) {
	defer rows.Close()

	alerts := make([]AlertRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec     AlertRecord
		payload []byte
	)
	if err := row.Scan(
		&rec.ID,
		&rec.EventID,
		&rec.Channel,
		&rec.Kind,
		&rec.Severity,
		&rec.InstrumentID,
		&rec.Title,
		&rec.Description,
		&rec.URL,
		&payload,
		&rec.DetectedAt,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}

var (
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
