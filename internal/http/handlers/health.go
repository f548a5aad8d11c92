package handlers

import (
	"net/http"
)

// Health reports liveness and how many accounts can currently submit.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	usable := 0
	if a.Pool != nil {
		for _, cred := range a.Pool.All(a.Settings.Provider) {
			if len(a.Pool.Keys(cred.Name).Valid()) > 0 {
				usable++
			}
		}
	}
	status := "ok"
	if usable == 0 {
		status = "degraded"
	}
	a.json(w, http.StatusOK, map[string]any{"status": status, "usable_accounts": usable})
}
