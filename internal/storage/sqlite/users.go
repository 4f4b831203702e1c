package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/teemow/callslot/internal/domain"
)

// CreateUser inserts a user. A taken username returns storage.ErrUniqueViolation.
func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, name, email, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Name, u.Email, u.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("inserting user: %w", mapError(err))
	}
	return nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByUsername returns a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return s.getUser(ctx, `WHERE username = ?`, username)
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (domain.User, error) {
	var (
		u         domain.User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, name, email, created_at FROM users `+where, arg).
		Scan(&u.ID, &u.Username, &u.Name, &u.Email, &createdAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("querying user: %w", mapError(err))
	}
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return u, nil
}
