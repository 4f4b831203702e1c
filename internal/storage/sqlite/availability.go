package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/teemow/callslot/internal/domain"
)

// ReplaceWeekdayRules deletes the user's rules and inserts the enabled ones
// from rules in a single transaction.
func (s *Store) ReplaceWeekdayRules(ctx context.Context, userID string, rules []domain.WeekdayRule) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_time_intervals WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("deleting time intervals: %w", mapError(err))
		}
		for _, r := range rules {
			if !r.Enabled {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO user_time_intervals (user_id, week_day, start_minute, end_minute)
				VALUES (?, ?, ?, ?)
			`, userID, r.Weekday, r.StartMinute, r.EndMinute)
			if err != nil {
				return fmt.Errorf("inserting time interval for weekday %d: %w", r.Weekday, mapError(err))
			}
		}
		return nil
	})
}

// ListWeekdayRules returns the stored rules ordered by weekday.
func (s *Store) ListWeekdayRules(ctx context.Context, userID string) ([]domain.WeekdayRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT week_day, start_minute, end_minute
		FROM user_time_intervals
		WHERE user_id = ?
		ORDER BY week_day
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying time intervals: %w", mapError(err))
	}
	defer func() { _ = rows.Close() }()

	var rules []domain.WeekdayRule
	for rows.Next() {
		r := domain.WeekdayRule{Enabled: true}
		if err := rows.Scan(&r.Weekday, &r.StartMinute, &r.EndMinute); err != nil {
			return nil, fmt.Errorf("scanning time interval: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetWeekdayRule returns the enabled rule for weekday or storage.ErrNotFound.
func (s *Store) GetWeekdayRule(ctx context.Context, userID string, weekday int) (domain.WeekdayRule, error) {
	r := domain.WeekdayRule{Weekday: weekday, Enabled: true}
	err := s.db.QueryRowContext(ctx, `
		SELECT start_minute, end_minute
		FROM user_time_intervals
		WHERE user_id = ? AND week_day = ?
	`, userID, weekday).Scan(&r.StartMinute, &r.EndMinute)
	if err != nil {
		return domain.WeekdayRule{}, fmt.Errorf("querying time interval: %w", mapError(err))
	}
	return r, nil
}
