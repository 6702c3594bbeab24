package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer() (*HTTPServer, *memStore) {
	ms := newMemStore()
	service, _ := newTestService(ms)
	return NewHTTPServer(service, "*"), ms
}

func doJSON(t *testing.T, server *HTTPServer, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("invalid JSON response for %s %s: %v", method, path, err)
		}
	}
	return rec, payload
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer()
	rec, payload := doJSON(t, server, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload["ok"] != true {
		t.Errorf("payload = %v", payload)
	}
}

func TestCreateAndFetchDocument(t *testing.T) {
	server, _ := newTestServer()

	rec, payload := doJSON(t, server, http.MethodPost, "/api/organizations/org-1/documents",
		`{"title":"Security Policy","content":"Follow the rules.","requiresAcknowledgment":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	doc, ok := payload["document"].(map[string]any)
	if !ok {
		t.Fatalf("missing document in %v", payload)
	}
	if doc["version"] != float64(1) {
		t.Errorf("version = %v, want 1", doc["version"])
	}
	docID, _ := doc["id"].(string)
	if docID == "" {
		t.Fatal("document id missing")
	}

	rec, payload = doJSON(t, server, http.MethodGet, "/api/documents/"+docID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	if payload["title"] != "Security Policy" {
		t.Errorf("title = %v", payload["title"])
	}
}

func TestGetUnknownDocument(t *testing.T) {
	server, _ := newTestServer()
	rec, payload := doJSON(t, server, http.MethodGet, "/api/documents/doc-missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestAcknowledgeEndpointConflict(t *testing.T) {
	server, _ := newTestServer()

	_, payload := doJSON(t, server, http.MethodPost, "/api/organizations/org-1/documents",
		`{"title":"Policy","content":"Rules.","requiresAcknowledgment":true}`)
	doc := payload["document"].(map[string]any)
	docID := doc["id"].(string)

	rec, _ := doJSON(t, server, http.MethodPost, "/api/documents/"+docID+"/acknowledge", `{"notes":"read it"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first acknowledge status = %d", rec.Code)
	}

	rec, payload = doJSON(t, server, http.MethodPost, "/api/documents/"+docID+"/acknowledge", `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second acknowledge status = %d", rec.Code)
	}
	if payload["code"] != "ALREADY_ACKNOWLEDGED" {
		t.Errorf("code = %v", payload["code"])
	}
}

func TestCompareRequiresVersionParams(t *testing.T) {
	server, _ := newTestServer()

	_, payload := doJSON(t, server, http.MethodPost, "/api/organizations/org-1/documents",
		`{"title":"Policy","content":"Rules."}`)
	doc := payload["document"].(map[string]any)
	docID := doc["id"].(string)

	rec, payload := doJSON(t, server, http.MethodGet, "/api/documents/"+docID+"/versions/compare?from=1", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("code = %v", payload["code"])
	}
}
