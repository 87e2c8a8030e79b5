package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandler_Probes(t *testing.T) {
	ready := false
	h := Handler(func() bool { return ready })

	tests := []struct {
		path   string
		ready  bool
		status int
	}{
		{"/healthz", false, http.StatusOK},
		{"/readyz", false, http.StatusServiceUnavailable},
		{"/readyz", true, http.StatusOK},
		{"/metrics", true, http.StatusOK},
	}
	for _, tt := range tests {
		ready = tt.ready
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.status {
			t.Errorf("%s (ready=%v): expected %d, got %d", tt.path, tt.ready, tt.status, rec.Code)
		}
	}
}

func TestHandler_NilReadyIsReady(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
