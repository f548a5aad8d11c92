package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// ProviderVideo is the provider key for the asynchronous video API.
	ProviderVideo = "video"
)

var (
	ErrNoAccounts      = errors.New("credentials: no accounts configured")
	ErrDuplicateName   = errors.New("credentials: duplicate account name")
	ErrMissingName     = errors.New("credentials: account name is required")
	ErrMissingTokens   = errors.New("credentials: account has no tokens")
	ErrUnknownProvider = errors.New("credentials: unknown provider")
)

// Credential is one complete secret set for a provider account. Every
// operation created with one of its tokens must be polled and downloaded
// with tokens of the same Credential.
type Credential struct {
	Name     string   `json:"name"`
	Provider string   `json:"provider"`
	Tokens   []string `json:"tokens"`
	ScopeID  string   `json:"scope_id"`
	Enabled  bool     `json:"enabled"`
}

// Validate checks the record and normalizes its tokens.
func (c *Credential) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return ErrMissingName
	}
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderVideo
	}
	c.ScopeID = strings.TrimSpace(c.ScopeID)
	c.Tokens = normalizeKeys(c.Tokens)
	if len(c.Tokens) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingTokens, c.Name)
	}
	return nil
}

type accountRecord struct {
	Name     string   `json:"name"`
	Provider string   `json:"provider"`
	Tokens   []string `json:"tokens"`
	Token    string   `json:"token"`
	ScopeID  string   `json:"scope_id"`
	Enabled  *bool    `json:"enabled"`
}

// ParseAccounts decodes a JSON array of account records. A record without
// an "enabled" field is enabled; "token" is accepted as a single-token
// shorthand.
func ParseAccounts(data []byte) ([]Credential, error) {
	var records []accountRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("credentials: decode accounts: %w", err)
	}
	out := make([]Credential, 0, len(records))
	for _, rec := range records {
		tokens := append([]string(nil), rec.Tokens...)
		if rec.Token != "" {
			tokens = append(tokens, rec.Token)
		}
		enabled := true
		if rec.Enabled != nil {
			enabled = *rec.Enabled
		}
		cred := Credential{
			Name:     rec.Name,
			Provider: rec.Provider,
			Tokens:   tokens,
			ScopeID:  rec.ScopeID,
			Enabled:  enabled,
		}
		if err := cred.Validate(); err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, nil
}

// Mask shortens a token for log output.
func Mask(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
