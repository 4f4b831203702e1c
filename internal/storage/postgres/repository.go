package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/storage"
)

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, name, email, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Name, u.Email, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", mapError(err))
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.getUser(ctx, `WHERE username = $1`, username)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, username, name, email, created_at FROM users `+where, arg).
		Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("querying user: %w", mapError(err))
	}
	return u, nil
}

func (s *Store) GetAccount(ctx context.Context, userID, provider string) (domain.Account, error) {
	var a domain.Account
	err := s.pool.QueryRow(ctx, `
		SELECT id::text, user_id::text, provider, provider_account_id, access_token, refresh_token,
		       id_token, token_type, scope, expires_at
		FROM accounts
		WHERE user_id = $1 AND provider = $2
	`, userID, provider).Scan(
		&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID, &a.AccessToken, &a.RefreshToken,
		&a.IDToken, &a.TokenType, &a.Scope, &a.ExpiresAt,
	)
	if err != nil {
		return domain.Account{}, fmt.Errorf("querying account: %w", mapError(err))
	}
	return a, nil
}

func (s *Store) UpsertAccount(ctx context.Context, a domain.Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, user_id, provider, provider_account_id, access_token,
		                      refresh_token, id_token, token_type, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_account_id = EXCLUDED.provider_account_id,
			access_token        = EXCLUDED.access_token,
			refresh_token       = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), accounts.refresh_token),
			id_token            = EXCLUDED.id_token,
			token_type          = EXCLUDED.token_type,
			scope               = EXCLUDED.scope,
			expires_at          = EXCLUDED.expires_at
	`, a.ID, a.UserID, a.Provider, a.ProviderAccountID, a.AccessToken,
		a.RefreshToken, a.IDToken, a.TokenType, a.Scope, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upserting account: %w", mapError(err))
	}
	return nil
}

func (s *Store) UpdateAccountTokens(ctx context.Context, accountID string, t domain.TokenSet) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET access_token = $1, refresh_token = $2, id_token = $3, token_type = $4, scope = $5, expires_at = $6
		WHERE id = $7
	`, t.AccessToken, t.RefreshToken, t.IDToken, t.TokenType, t.Scope, t.ExpiresAt, accountID)
	if err != nil {
		return fmt.Errorf("updating account tokens: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ReplaceWeekdayRules(ctx context.Context, userID string, rules []domain.WeekdayRule) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_time_intervals WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("deleting time intervals: %w", mapError(err))
		}
		batch := &pgx.Batch{}
		for _, r := range rules {
			if !r.Enabled {
				continue
			}
			batch.Queue(`
				INSERT INTO user_time_intervals (user_id, week_day, start_minute, end_minute)
				VALUES ($1, $2, $3, $4)
			`, userID, r.Weekday, r.StartMinute, r.EndMinute)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting time intervals: %w", mapError(err))
		}
		return nil
	})
}

func (s *Store) ListWeekdayRules(ctx context.Context, userID string) ([]domain.WeekdayRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT week_day, start_minute, end_minute
		FROM user_time_intervals
		WHERE user_id = $1
		ORDER BY week_day
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying time intervals: %w", mapError(err))
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.WeekdayRule, error) {
		r := domain.WeekdayRule{Enabled: true}
		err := row.Scan(&r.Weekday, &r.StartMinute, &r.EndMinute)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning time intervals: %w", err)
	}
	return rules, nil
}

func (s *Store) GetWeekdayRule(ctx context.Context, userID string, weekday int) (domain.WeekdayRule, error) {
	r := domain.WeekdayRule{Weekday: weekday, Enabled: true}
	err := s.pool.QueryRow(ctx, `
		SELECT start_minute, end_minute
		FROM user_time_intervals
		WHERE user_id = $1 AND week_day = $2
	`, userID, weekday).Scan(&r.StartMinute, &r.EndMinute)
	if err != nil {
		return domain.WeekdayRule{}, fmt.Errorf("querying time interval: %w", mapError(err))
	}
	return r, nil
}

const schedulingColumns = `id::text, user_id::text, name, email, observations, date, created_at,
	event_id, event_sync_status, event_sync_error, event_sync_attempts`

func (s *Store) CreateScheduling(ctx context.Context, sc domain.Scheduling) error {
	status := sc.EventSyncStatus
	if status == "" {
		status = domain.EventSyncPending
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO schedulings (id, user_id, name, email, observations, date, created_at,
		                         event_id, event_sync_status, event_sync_error, event_sync_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sc.ID, sc.UserID, sc.Name, sc.Email, sc.Observations, sc.Date.UTC(), sc.CreatedAt.UTC(),
		sc.EventID, string(status), sc.EventSyncError, sc.EventSyncAttempts)
	if err != nil {
		return fmt.Errorf("inserting scheduling: %w", mapError(err))
	}
	return nil
}

func (s *Store) GetScheduling(ctx context.Context, id string) (domain.Scheduling, error) {
	sc, err := scanScheduling(s.pool.QueryRow(ctx, `SELECT `+schedulingColumns+` FROM schedulings WHERE id = $1`, id))
	if err != nil {
		return domain.Scheduling{}, fmt.Errorf("querying scheduling: %w", mapError(err))
	}
	return sc, nil
}

func (s *Store) SchedulingExistsAt(ctx context.Context, userID string, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schedulings WHERE user_id = $1 AND date = $2)`,
		userID, date.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying scheduling: %w", mapError(err))
	}
	return exists, nil
}

func (s *Store) ListSchedulings(ctx context.Context, userID string, start, end time.Time) ([]domain.Scheduling, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+schedulingColumns+`
		FROM schedulings
		WHERE user_id = $1 AND date >= $2 AND date < $3
		ORDER BY date
	`, userID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("querying schedulings: %w", mapError(err))
	}
	return collectSchedulings(rows)
}

func (s *Store) UpdateEventSync(ctx context.Context, id string, status domain.EventSyncStatus, eventID, syncErr string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedulings
		SET event_sync_status = $1,
		    event_id = COALESCE(NULLIF($2, ''), event_id),
		    event_sync_error = $3,
		    event_sync_attempts = event_sync_attempts + 1
		WHERE id = $4
	`, string(status), eventID, syncErr, id)
	if err != nil {
		return fmt.Errorf("updating event sync: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scheduling %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListUnsynced(ctx context.Context, createdBefore, startsAfter time.Time, limit int) ([]domain.Scheduling, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+schedulingColumns+`
		FROM schedulings
		WHERE event_sync_status IN ('pending', 'failed') AND created_at < $1 AND date > $2
		ORDER BY created_at
		LIMIT $3
	`, createdBefore.UTC(), startsAfter.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying unsynced schedulings: %w", mapError(err))
	}
	return collectSchedulings(rows)
}

func scanScheduling(row pgx.Row) (domain.Scheduling, error) {
	var (
		sc     domain.Scheduling
		status string
	)
	err := row.Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.Email, &sc.Observations, &sc.Date, &sc.CreatedAt,
		&sc.EventID, &status, &sc.EventSyncError, &sc.EventSyncAttempts)
	if err != nil {
		return domain.Scheduling{}, err
	}
	sc.Date = sc.Date.UTC()
	sc.CreatedAt = sc.CreatedAt.UTC()
	sc.EventSyncStatus = domain.EventSyncStatus(status)
	return sc, nil
}

func collectSchedulings(rows pgx.Rows) ([]domain.Scheduling, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Scheduling, error) {
		return scanScheduling(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scanning schedulings: %w", err)
	}
	return out, nil
}
