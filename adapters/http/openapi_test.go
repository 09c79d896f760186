package http_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	apihttp "github.com/artpar/llmgate/adapters/http"
)

func TestSwagger_Enabled(t *testing.T) {
	router, _ := setupTestHandler(apihttp.RouterConfig{EnableOpenAPI: true})

	req := httptest.NewRequest("GET", "/swagger/index.html", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "swagger") {
		t.Error("expected the swagger UI page")
	}
}

func TestSwagger_DocJSON(t *testing.T) {
	router, _ := setupTestHandler(apihttp.RouterConfig{EnableOpenAPI: true})

	req := httptest.NewRequest("GET", "/swagger/doc.json", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"LLMGate API", "/api/v1/chat", "/api/v1/usage", "ApiKeyAuth"} {
		if !strings.Contains(body, want) {
			t.Errorf("doc.json missing %q", want)
		}
	}
}

func TestSwagger_Disabled(t *testing.T) {
	router, _ := setupTestHandler(apihttp.RouterConfig{})

	req := httptest.NewRequest("GET", "/swagger/index.html", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Errorf("status = %d, want 404 when openapi is disabled", rec.Code)
	}
}
