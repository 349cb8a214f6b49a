package proxy

import (
	"encoding/json"
	"net/http"

	"github.com/sovereign-gateway/core/internal/discovery"
	"github.com/sovereign-gateway/core/internal/store"
	"github.com/sovereign-gateway/core/internal/store/models"
)

// handleDiscoveryScan surfaces every credential file discovery.ScanAll finds
// on disk, tokens masked for display.
func (s *Server) handleDiscoveryScan(w http.ResponseWriter, r *http.Request) {
	result := discovery.ScanAll(s.log)
	masked := make([]discovery.Credential, len(result.Credentials))
	for i, c := range result.Credentials {
		masked[i] = discovery.MaskCredential(c)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"credentials": masked,
		"errors":      result.Errors,
	})
}

// sourceToProvider maps a discovery source name to the provider value a
// new Account row is created with. Codex credentials are a ChatGPT OAuth
// token, not a google/anthropic cloud credential or a local-provider base
// URL, so there is no faithful provider value for them — import is
// refused rather than inventing a fifth provider the token manager and
// translate package don't know how to drive.
func sourceToProvider(source string) (string, bool) {
	switch source {
	case "antigravity", "gemini-cli":
		return "google", true
	default:
		return "", false
	}
}

type discoveryImportRequest struct {
	Source     string `json:"source"`
	ConfigPath string `json:"config_path"`
}

// handleDiscoveryImport re-parses the named source's credential file (the
// scan response only ever carries masked tokens) and adds it as a new,
// inactive Account.
func (s *Server) handleDiscoveryImport(w http.ResponseWriter, r *http.Request) {
	var req discoveryImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProtocolError(w, protocolOpenAI, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	provider, ok := sourceToProvider(req.Source)
	if !ok {
		writeProtocolError(w, protocolOpenAI, "unsupported credential source: "+req.Source, http.StatusBadRequest)
		return
	}

	var source *discovery.Source
	for i := range discovery.Sources {
		if discovery.Sources[i].Name == req.Source {
			source = &discovery.Sources[i]
			break
		}
	}
	if source == nil {
		writeProtocolError(w, protocolOpenAI, "unknown credential source: "+req.Source, http.StatusBadRequest)
		return
	}

	cred, err := source.Parser(req.ConfigPath)
	if err != nil {
		writeProtocolError(w, protocolOpenAI, "re-reading credential: "+err.Error(), http.StatusBadRequest)
		return
	}

	account := store.Account{
		Provider: provider,
		Email:    cred.Email,
		Status:   store.StatusActive,
		Token: models.Token{
			AccessToken:     cred.AccessToken,
			RefreshToken:    cred.RefreshToken,
			ExpiryTimestamp: cred.ExpiresAt.Unix(),
			ProjectID:       cred.ProjectID,
		},
	}
	if err := s.store.Add(account); err != nil {
		writeProtocolError(w, protocolOpenAI, "saving imported account: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.manager.Load(); err != nil {
		s.log.Warn("reloading token manager after import failed", "error", err)
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{"imported": true, "email": cred.Email, "provider": provider})
}
