package apiapp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Unauthenticated requests reach the handler and get 401, so a 401 here
// proves the route is registered while 404/405 proves it is not.
func TestRegisteredRoutePaths(t *testing.T) {
	r := chi.NewRouter()
	RegisterRoutes(r, Dependencies{})

	registered := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/swipes"},
		{http.MethodPost, "/v1/chat-requests"},
		{http.MethodGet, "/v1/feed"},
		{http.MethodGet, "/v1/connections/pending"},
		{http.MethodPost, "/v1/connections/202/resolve"},
		{http.MethodGet, "/v1/consumables"},
		{http.MethodPost, "/v1/consumables/purchase"},
		{http.MethodPost, "/v1/boost"},
		{http.MethodGet, "/v1/boost/status"},
		{http.MethodGet, "/v1/subscription"},
		{http.MethodPost, "/v1/subscription/plus"},
		{http.MethodDelete, "/v1/subscription"},
	}
	for _, route := range registered {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(route.method, route.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401 from the registered route, got %d", route.method, route.path, rec.Code)
		}
	}

	retired := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/v1/connections/resolve"},
		{http.MethodPost, "/v1/subscription/purchase"},
		{http.MethodPost, "/v1/subscription/cancel"},
	}
	for _, route := range retired {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(route.method, route.path, nil))
		if rec.Code == http.StatusUnauthorized {
			t.Fatalf("%s %s: retired path must not resolve to a handler", route.method, route.path)
		}
	}
}

func TestHealthzIsOpen(t *testing.T) {
	r := chi.NewRouter()
	RegisterRoutes(r, Dependencies{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz must not require authentication, got %d", rec.Code)
	}
}
