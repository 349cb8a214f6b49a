package proxy

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sovereign-gateway/core/internal/store"
)

// defaultModels is returned when the active account has neither a
// selected-models filter nor any cached quota entries.
var defaultModels = []string{"gemini-2.5-pro", "gemini-2.5-flash", "gemini-3-pro-preview"}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
	Local   bool   `json:"local,omitempty"`
}

// handleModels implements GET /v1/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names := s.listRemoteModels()

	var localNames []string
	accounts, err := s.store.List()
	if err == nil {
		for _, a := range accounts {
			if !strings.HasPrefix(a.Provider, "local-") || a.Token.RefreshToken == "" {
				continue
			}
			remoteModels, lerr := s.localClient.ListModels(ctx, a.Token.RefreshToken)
			if lerr != nil {
				s.log.Warn("listing local provider models failed", "account_id", a.ID, "error", lerr)
				continue
			}
			localNames = append(localNames, remoteModels...)
		}
	}

	created := time.Now().Unix()
	entries := make([]modelEntry, 0, len(names)+len(localNames))
	for _, n := range names {
		entries = append(entries, modelEntry{ID: n, Object: "model", Created: created, OwnedBy: "sovereign-gateway"})
	}
	for _, n := range localNames {
		entries = append(entries, modelEntry{ID: n, Object: "model", Created: created, OwnedBy: "sovereign-gateway", Local: true})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": entries})
}

func (s *Server) listRemoteModels() []string {
	accounts, err := s.store.List()
	if err != nil {
		return append([]string(nil), defaultModels...)
	}
	var active *store.Account
	for i := range accounts {
		if accounts[i].IsActive {
			active = &accounts[i]
			break
		}
	}
	if active == nil {
		return append([]string(nil), defaultModels...)
	}
	if len(active.SelectedModels) > 0 {
		return active.SelectedModels
	}
	if len(active.Quota) > 0 {
		names := make([]string, 0, len(active.Quota))
		for id := range active.Quota {
			names = append(names, id)
		}
		return names
	}
	return append([]string(nil), defaultModels...)
}
