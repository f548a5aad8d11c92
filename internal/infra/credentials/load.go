package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Sources lists where accounts come from. Every non-empty source is read
// and the results are concatenated; names must stay unique.
type Sources struct {
	JSON     string
	File     string
	Store    *Store
	Provider string
}

// Load reads the configured sources. It returns ErrNoAccounts when none of
// them yields an account.
func Load(ctx context.Context, src Sources) ([]Credential, error) {
	var out []Credential
	if strings.TrimSpace(src.JSON) != "" {
		creds, err := ParseAccounts([]byte(src.JSON))
		if err != nil {
			return nil, fmt.Errorf("credentials: inline accounts: %w", err)
		}
		out = append(out, creds...)
	}
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return nil, fmt.Errorf("credentials: read %s: %w", src.File, err)
		}
		creds, err := ParseAccounts(data)
		if err != nil {
			return nil, fmt.Errorf("credentials: %s: %w", src.File, err)
		}
		out = append(out, creds...)
	}
	if src.Store != nil {
		provider := src.Provider
		if provider == "" {
			provider = ProviderVideo
		}
		creds, err := src.Store.List(ctx, provider)
		if err != nil {
			return nil, err
		}
		out = append(out, creds...)
	}
	if len(out) == 0 {
		return nil, ErrNoAccounts
	}
	return out, nil
}
