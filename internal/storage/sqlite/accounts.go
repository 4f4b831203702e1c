package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/storage"
)

// GetAccount returns the user's account for provider.
func (s *Store) GetAccount(ctx context.Context, userID, provider string) (domain.Account, error) {
	var (
		a         domain.Account
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, provider_account_id, access_token, refresh_token,
		       id_token, token_type, scope, expires_at
		FROM accounts
		WHERE user_id = ? AND provider = ?
	`, userID, provider).Scan(
		&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID, &a.AccessToken, &a.RefreshToken,
		&a.IDToken, &a.TokenType, &a.Scope, &expiresAt,
	)
	if err != nil {
		return domain.Account{}, fmt.Errorf("querying account: %w", mapError(err))
	}
	if expiresAt.Valid {
		v := expiresAt.Int64
		a.ExpiresAt = &v
	}
	return a, nil
}

// UpsertAccount stores the account, replacing any existing one for the same
// user and provider. The existing row keeps its id.
func (s *Store) UpsertAccount(ctx context.Context, a domain.Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, provider, provider_account_id, access_token,
		                      refresh_token, id_token, token_type, scope, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_account_id = excluded.provider_account_id,
			access_token        = excluded.access_token,
			refresh_token       = CASE WHEN excluded.refresh_token = '' THEN accounts.refresh_token
			                           ELSE excluded.refresh_token END,
			id_token            = excluded.id_token,
			token_type          = excluded.token_type,
			scope               = excluded.scope,
			expires_at          = excluded.expires_at
	`, a.ID, a.UserID, a.Provider, a.ProviderAccountID, a.AccessToken,
		a.RefreshToken, a.IDToken, a.TokenType, a.Scope, nullInt(a.ExpiresAt))
	if err != nil {
		return fmt.Errorf("upserting account: %w", mapError(err))
	}
	return nil
}

// UpdateAccountTokens overwrites the token columns of one account.
func (s *Store) UpdateAccountTokens(ctx context.Context, accountID string, t domain.TokenSet) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET access_token = ?, refresh_token = ?, id_token = ?, token_type = ?, scope = ?, expires_at = ?
		WHERE id = ?
	`, t.AccessToken, t.RefreshToken, t.IDToken, t.TokenType, t.Scope, nullInt(t.ExpiresAt), accountID)
	if err != nil {
		return fmt.Errorf("updating account tokens: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}
	return nil
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
