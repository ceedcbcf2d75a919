package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsUnauthenticated(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := NewAppHandler(deps)

	rec := doRequest(t, handler, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestBearerAuthRejectsBadToken(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := NewAppHandler(deps)

	for _, token := range []string{"", "wrong-token"} {
		rec := doRequest(t, handler, http.MethodGet, "/discussions", token, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rec.Code)
		}
	}
}

func TestAddAndGetDialogueUnit(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := NewAppHandler(deps)

	rec := doRequest(t, handler, http.MethodPost, "/dialogue-units", deps.Token, map[string]any{
		"prompt":   "how tall is the Eiffel tower",
		"response": "about 330 meters",
		"intent":   "question",
		"topics":   []string{"travel"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body)
	}
	var added struct {
		ID int64 `json:"dialogue_unit_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &added); err != nil {
		t.Fatal(err)
	}

	rec = doRequest(t, handler, http.MethodGet, "/dialogue-units/1", deps.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "Eiffel") {
		t.Errorf("body = %s", rec.Body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/dialogue-units/999", deps.Token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing unit status = %d, want 404", rec.Code)
	}
}

func TestAddDialogueUnitValidation(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := NewAppHandler(deps)

	rec := doRequest(t, handler, http.MethodPost, "/dialogue-units", deps.Token, map[string]any{
		"prompt": "no response given",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestFindDiscussions(t *testing.T) {
	deps, mem := newTestDeps(t)
	handler := NewAppHandler(deps)

	title := "Trip planning"
	if err := mem.ModifyDiscussion("current", &title, nil); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, handler, http.MethodGet, "/discussions?title=Trip", deps.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		IDs []int64 `json:"discussion_ids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.IDs) != 1 {
		t.Errorf("ids = %v", resp.IDs)
	}

	// The limit cap is a hard error, same as on the search path.
	rec = doRequest(t, handler, http.MethodGet, "/discussions?limit=11", deps.Token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=11 status = %d, want 400: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/discussions?limit=10", deps.Token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("limit=10 status = %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/discussions?limit=abc", deps.Token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=abc status = %d, want 400: %s", rec.Code, rec.Body)
	}
}

func TestGetAndModifyDiscussion(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := NewAppHandler(deps)

	rec := doRequest(t, handler, http.MethodPatch, "/discussions/current", deps.Token, map[string]any{
		"title":    "Named discussion",
		"featured": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/discussions/current", deps.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Named discussion") {
		t.Errorf("body = %s", rec.Body)
	}

	// Neither field present.
	rec = doRequest(t, handler, http.MethodPatch, "/discussions/current", deps.Token, map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty patch status = %d, want 400", rec.Code)
	}
}

func TestCategoryEndpoints(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := NewAppHandler(deps)

	rec := doRequest(t, handler, http.MethodPut, "/discussions/current/categories", deps.Token, map[string]any{
		"name":  "travel",
		"score": 0.9,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/discussions/current/categories", deps.Token, nil)
	if !strings.Contains(rec.Body.String(), "Travel") {
		t.Errorf("categories body = %s", rec.Body)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/discussions/current/categories/Travel", deps.Token, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("remove status = %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodDelete, "/discussions/current/categories/Travel", deps.Token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second remove status = %d, want 404", rec.Code)
	}
}

func TestSearchRelational(t *testing.T) {
	deps, mem := newTestDeps(t)
	handler := NewAppHandler(deps)

	if _, err := mem.AddDialogueUnit("question about go", "an answer", "question", nil, nil); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, handler, http.MethodPost, "/search", deps.Token, map[string]any{
		"intent": "question",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		IDs       []int64   `json:"dialogue_unit_ids"`
		Distances []float64 `json:"distances"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.IDs) != 1 {
		t.Errorf("ids = %v", resp.IDs)
	}
	if resp.Distances != nil {
		t.Errorf("relational search returned distances: %v", resp.Distances)
	}

	rec = doRequest(t, handler, http.MethodPost, "/search", deps.Token, map[string]any{"limit": 11})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit 11 status = %d, want 400", rec.Code)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	deps, mem := newTestDeps(t)
	handler := NewAppHandler(deps)

	if _, err := mem.AddDialogueUnit("p", "r", "question", nil, nil); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, handler, http.MethodPost, "/statistics", deps.Token, map[string]any{
		"type":   "count",
		"entity": "dialogue_unit_id",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodPost, "/statistics", deps.Token, map[string]any{
		"type":   "median",
		"entity": "cost",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rec.Code)
	}
}

func TestUpdateCostEndpoint(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := NewAppHandler(deps)

	rec := doRequest(t, handler, http.MethodPut, "/session/cost", deps.Token, map[string]any{
		"cost": 0.42,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/discussions/current", deps.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", rec.Code, rec.Body)
	}
	var d struct {
		Cost float64 `json:"cost"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.Cost != 0.42 {
		t.Errorf("cost = %v, want 0.42", d.Cost)
	}
}

func TestProfileEndpoints(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := NewAppHandler(deps)

	rec := doRequest(t, handler, http.MethodPatch, "/profile", deps.Token, map[string]any{
		"identity.name": "Ada",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", rec.Code, rec.Body)
	}

	rec = doRequest(t, handler, http.MethodGet, "/profile", deps.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Ada") {
		t.Errorf("profile body = %s", rec.Body)
	}
}
