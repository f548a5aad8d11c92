package handlers

import (
	"net/http"
)

type accountView struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Enabled   bool   `json:"enabled"`
	Keys      int    `json:"keys"`
	ValidKeys int    `json:"valid_keys"`
}

// ListAccounts reports every configured account with its key health.
// Tokens are never returned.
func (a *App) ListAccounts(w http.ResponseWriter, r *http.Request) {
	out := make([]accountView, 0)
	if a.Pool != nil {
		for _, name := range a.Pool.Names() {
			cred, _ := a.Pool.Lookup(name)
			keys := a.Pool.Keys(name)
			out = append(out, accountView{
				Name:      cred.Name,
				Provider:  cred.Provider,
				Enabled:   cred.Enabled,
				Keys:      keys.Len(),
				ValidKeys: len(keys.Valid()),
			})
		}
	}
	a.json(w, http.StatusOK, map[string]any{"accounts": out})
}
