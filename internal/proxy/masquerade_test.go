package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleMasqueradeFetchModels_ReturnsCannedQuota(t *testing.T) {
	s := &Server{}
	rec := httptest.NewRecorder()
	s.handleMasqueradeFetchModels(rec, httptest.NewRequest(http.MethodPost, "/v1internal:fetchAvailableModels", nil))

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	models, ok := body["models"].(map[string]interface{})
	if !ok || len(models) == 0 {
		t.Fatalf("expected a non-empty models map, got %v", body)
	}
}

func TestHandleMasqueradeUserinfo_MatchesPeopleMeIdentity(t *testing.T) {
	s := &Server{}

	userinfoRec := httptest.NewRecorder()
	s.handleMasqueradeUserinfo(userinfoRec, httptest.NewRequest(http.MethodGet, "/oauth2/v2/userinfo", nil))
	var userinfo map[string]interface{}
	if err := json.Unmarshal(userinfoRec.Body.Bytes(), &userinfo); err != nil {
		t.Fatalf("decoding userinfo: %v", err)
	}

	peopleRec := httptest.NewRecorder()
	s.handleMasqueradePeopleMe(peopleRec, httptest.NewRequest(http.MethodGet, "/v1/people/me", nil))
	var people map[string]interface{}
	if err := json.Unmarshal(peopleRec.Body.Bytes(), &people); err != nil {
		t.Fatalf("decoding people/me: %v", err)
	}

	emails, ok := people["emailAddresses"].([]interface{})
	if !ok || len(emails) == 0 {
		t.Fatalf("expected at least one email entry, got %v", people)
	}
	emailEntry := emails[0].(map[string]interface{})
	if emailEntry["value"] != userinfo["email"] {
		t.Fatalf("expected people/me email to match userinfo email: %v != %v", emailEntry["value"], userinfo["email"])
	}
}
