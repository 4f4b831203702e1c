package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/storage"
)

const schedulingColumns = `id, user_id, name, email, observations, date, created_at,
	event_id, event_sync_status, event_sync_error, event_sync_attempts`

// CreateScheduling inserts a booking. The (user_id, date) unique index
// rejects a second booking for the same hour with storage.ErrUniqueViolation.
func (s *Store) CreateScheduling(ctx context.Context, sc domain.Scheduling) error {
	status := sc.EventSyncStatus
	if status == "" {
		status = domain.EventSyncPending
	}
	var obs sql.NullString
	if sc.Observations != nil {
		obs = sql.NullString{String: *sc.Observations, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedulings (id, user_id, name, email, observations, date, created_at,
		                         event_id, event_sync_status, event_sync_error, event_sync_attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sc.ID, sc.UserID, sc.Name, sc.Email, obs, sc.Date.Unix(), sc.CreatedAt.Unix(),
		sc.EventID, string(status), sc.EventSyncError, sc.EventSyncAttempts)
	if err != nil {
		return fmt.Errorf("inserting scheduling: %w", mapError(err))
	}
	return nil
}

// GetScheduling returns a booking by id.
func (s *Store) GetScheduling(ctx context.Context, id string) (domain.Scheduling, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+schedulingColumns+` FROM schedulings WHERE id = ?`, id)
	sc, err := scanScheduling(row)
	if err != nil {
		return domain.Scheduling{}, fmt.Errorf("querying scheduling: %w", mapError(err))
	}
	return sc, nil
}

// SchedulingExistsAt reports whether the user has a booking at date.
func (s *Store) SchedulingExistsAt(ctx context.Context, userID string, date time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM schedulings WHERE user_id = ? AND date = ?`, userID, date.Unix()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("querying scheduling: %w", mapError(err))
	}
	return n > 0, nil
}

// ListSchedulings returns bookings with start <= date < end, ordered by date.
func (s *Store) ListSchedulings(ctx context.Context, userID string, start, end time.Time) ([]domain.Scheduling, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+schedulingColumns+`
		FROM schedulings
		WHERE user_id = ? AND date >= ? AND date < ?
		ORDER BY date
	`, userID, start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("querying schedulings: %w", mapError(err))
	}
	return collectSchedulings(rows)
}

// UpdateEventSync records one calendar mirror attempt.
func (s *Store) UpdateEventSync(ctx context.Context, id string, status domain.EventSyncStatus, eventID, syncErr string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedulings
		SET event_sync_status = ?,
		    event_id = CASE WHEN ? = '' THEN event_id ELSE ? END,
		    event_sync_error = ?,
		    event_sync_attempts = event_sync_attempts + 1
		WHERE id = ?
	`, string(status), eventID, eventID, syncErr, id)
	if err != nil {
		return fmt.Errorf("updating event sync: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("scheduling %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// ListUnsynced returns pending or failed bookings created before
// createdBefore that start after startsAfter, oldest first.
func (s *Store) ListUnsynced(ctx context.Context, createdBefore, startsAfter time.Time, limit int) ([]domain.Scheduling, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+schedulingColumns+`
		FROM schedulings
		WHERE event_sync_status IN ('pending', 'failed') AND created_at < ? AND date > ?
		ORDER BY created_at
		LIMIT ?
	`, createdBefore.Unix(), startsAfter.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying unsynced schedulings: %w", mapError(err))
	}
	return collectSchedulings(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanScheduling(row scanner) (domain.Scheduling, error) {
	var (
		sc        domain.Scheduling
		obs       sql.NullString
		date      int64
		createdAt int64
		status    string
	)
	err := row.Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.Email, &obs, &date, &createdAt,
		&sc.EventID, &status, &sc.EventSyncError, &sc.EventSyncAttempts)
	if err != nil {
		return domain.Scheduling{}, err
	}
	if obs.Valid {
		v := obs.String
		sc.Observations = &v
	}
	sc.Date = time.Unix(date, 0).UTC()
	sc.CreatedAt = time.Unix(createdAt, 0).UTC()
	sc.EventSyncStatus = domain.EventSyncStatus(status)
	return sc, nil
}

func collectSchedulings(rows *sql.Rows) ([]domain.Scheduling, error) {
	defer func() { _ = rows.Close() }()

	var out []domain.Scheduling
	for rows.Next() {
		sc, err := scanScheduling(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scheduling: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
