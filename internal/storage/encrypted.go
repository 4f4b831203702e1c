package storage

import (
	"context"
	"fmt"

	"github.com/teemow/callslot/internal/domain"
	"github.com/teemow/callslot/internal/storage/crypt"
)

// encryptedStore encrypts account tokens before they reach the database.
type encryptedStore struct {
	Store
	enc *crypt.TokenEncryption
}

// WithTokenEncryption wraps store so that access, refresh and id tokens are
// stored encrypted. A nil or disabled enc returns store unchanged.
func WithTokenEncryption(store Store, enc *crypt.TokenEncryption) Store {
	if enc == nil || !enc.Enabled() {
		return store
	}
	return &encryptedStore{Store: store, enc: enc}
}

func (s *encryptedStore) GetAccount(ctx context.Context, userID, provider string) (domain.Account, error) {
	acc, err := s.Store.GetAccount(ctx, userID, provider)
	if err != nil {
		return domain.Account{}, err
	}
	if err := s.decrypt(&acc.AccessToken, &acc.RefreshToken, &acc.IDToken); err != nil {
		return domain.Account{}, fmt.Errorf("decrypting account %s: %w", acc.ID, err)
	}
	return acc, nil
}

func (s *encryptedStore) UpsertAccount(ctx context.Context, account domain.Account) error {
	if err := s.encrypt(&account.AccessToken, &account.RefreshToken, &account.IDToken); err != nil {
		return fmt.Errorf("encrypting account tokens: %w", err)
	}
	return s.Store.UpsertAccount(ctx, account)
}

func (s *encryptedStore) UpdateAccountTokens(ctx context.Context, accountID string, tokens domain.TokenSet) error {
	if err := s.encrypt(&tokens.AccessToken, &tokens.RefreshToken, &tokens.IDToken); err != nil {
		return fmt.Errorf("encrypting account tokens: %w", err)
	}
	return s.Store.UpdateAccountTokens(ctx, accountID, tokens)
}

func (s *encryptedStore) encrypt(fields ...*string) error {
	for _, f := range fields {
		v, err := s.enc.Encrypt(*f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}

func (s *encryptedStore) decrypt(fields ...*string) error {
	for _, f := range fields {
		v, err := s.enc.Decrypt(*f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}
