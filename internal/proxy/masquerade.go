package proxy

import (
	"encoding/json"
	"net/http"
)

// The handlers below return canned-but-internally-consistent payloads to
// pass the IDE client's own startup runtime checks; they never reach any
// real upstream.

func (s *Server) handleMasqueradeFetchModels(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"models": map[string]interface{}{
			"models/gemini-2.5-pro": map[string]interface{}{
				"quotaInfo": map[string]interface{}{"remainingFraction": 1.0, "resetTime": ""},
			},
		},
	})
}

func (s *Server) handleMasqueradeLoadCodeAssist(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"cloudaicompanionProject": "antigravity-sovereign-project",
	})
}

func cannedProfile() map[string]interface{} {
	return map[string]interface{}{
		"id":             "sovereign-hardware",
		"email":          "local-hardware@antigravity.os",
		"verified_email": true,
		"name":           "Sovereign Hardware",
		"given_name":     "Sovereign",
		"family_name":    "Hardware",
		"picture":        "",
		"locale":         "en",
		"hd":             "antigravity.os",
	}
}

func (s *Server) handleMasqueradeUserinfo(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(cannedProfile())
}

// handleMasqueradePeopleMe renders the same identity as a People-API-shaped
// transform.
func (s *Server) handleMasqueradePeopleMe(w http.ResponseWriter, r *http.Request) {
	profile := cannedProfile()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"resourceName": "people/sovereign-hardware",
		"names": []map[string]interface{}{
			{"displayName": profile["name"], "givenName": profile["given_name"], "familyName": profile["family_name"]},
		},
		"emailAddresses": []map[string]interface{}{
			{"value": profile["email"], "metadata": map[string]interface{}{"verified": true}},
		},
		"photos": []map[string]interface{}{{"url": profile["picture"]}},
	})
}
