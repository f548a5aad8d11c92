package credentials

import (
	"context"
	"fmt"

	"github.com/panora77956/v3-sub000/internal/infra"
	"github.com/panora77956/v3-sub000/internal/sqlinline"
)

// Store reads and writes account records in the provider_accounts table.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// List returns every account of provider, enabled or not.
func (s *Store) List(ctx context.Context, provider string) ([]Credential, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectProviderAccounts, provider)
	if err != nil {
		return nil, fmt.Errorf("credentials: list accounts: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		if err := rows.Scan(&c.Name, &c.Provider, &c.Tokens, &c.ScopeID, &c.Enabled); err != nil {
			return nil, fmt.Errorf("credentials: scan account: %w", err)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials: iterate accounts: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces the account with the same name.
func (s *Store) Upsert(ctx context.Context, c Credential) error {
	if err := c.Validate(); err != nil {
		return err
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertProviderAccount, c.Name, c.Provider, c.Tokens, c.ScopeID, c.Enabled)
	return err
}

// Disable turns an account off without deleting its tokens.
func (s *Store) Disable(ctx context.Context, name string) error {
	if name == "" {
		return ErrMissingName
	}
	_, err := s.sql.Exec(ctx, sqlinline.QDisableProviderAccount, name)
	return err
}
