package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func performRequest(router chi.Router, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func routerErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestNewRouterServesHealthEndpoints(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthClock(func() time.Time { return now }),
	)))

	for _, target := range []string{"/healthz", "/readyz"} {
		rr := performRequest(router, http.MethodGet, target)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: expected application/json, got %s", target, ct)
		}
	}
}

func TestNewRouterStubsUnregisteredGroups(t *testing.T) {
	router := NewRouter()

	rr := performRequest(router, http.MethodGet, "/api/v1/orders")
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501 for unregistered group, got %d", rr.Code)
	}
	if code := routerErrorCode(t, rr); code != "not_implemented" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestNewRouterMountsRegistrars(t *testing.T) {
	registrar := func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	}

	router := NewRouter(WithServiceRoutes(registrar))

	rr := performRequest(router, http.MethodGet, "/api/v1/services")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from registrar, got %d", rr.Code)
	}
}

func TestNewRouterUnknownRoute(t *testing.T) {
	router := NewRouter()

	rr := performRequest(router, http.MethodGet, "/does/not/exist")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if code := routerErrorCode(t, rr); code != "route_not_found" {
		t.Fatalf("unexpected error code %q", code)
	}
}

func TestNewRouterAppliesWebhookMiddleware(t *testing.T) {
	marker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test-Middleware", "webhooks")
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(WithWebhookMiddlewares(marker))

	rr := performRequest(router, http.MethodGet, "/api/v1/webhooks/sample")
	if rr.Header().Get("X-Test-Middleware") != "webhooks" {
		t.Fatal("expected webhook middleware to run for the webhook group")
	}
}
